package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/feed"
	"github.com/tazhate/calmirror/internal/ratelimit"
	"github.com/tazhate/calmirror/internal/reconcile"
	"github.com/tazhate/calmirror/internal/translate"
)

type feedFunc func(ctx context.Context) ([]byte, error)

func (f feedFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

type memoryStore struct {
	mu       sync.Mutex
	mappings map[string]domain.MappingRecord
	runs     []domain.RunRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{mappings: make(map[string]domain.MappingRecord)}
}

func (m *memoryStore) LoadAll(context.Context) ([]domain.MappingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MappingRecord, 0, len(m.mappings))
	for _, rec := range m.mappings {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) Upsert(_ context.Context, rec domain.MappingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[rec.Identity] = rec
	return nil
}

func (m *memoryStore) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, identity)
	return nil
}

func (m *memoryStore) RecordRun(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

type countingClient struct {
	mu      sync.Mutex
	next    int
	creates int
}

func (c *countingClient) CreateEvent(context.Context, translate.Body) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.creates++
	return fmt.Sprintf("evt-%d", c.next), nil
}

func (c *countingClient) UpdateEvent(context.Context, string, translate.Body) error { return nil }

func (c *countingClient) DeleteEvent(context.Context, string) error { return nil }

type recordingReporter struct {
	runs []domain.RunRecord
}

func (r *recordingReporter) Report(_ context.Context, run domain.RunRecord) error {
	r.runs = append(r.runs, run)
	return nil
}

const testFeed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:a\r\nSUMMARY:A\r\nDTSTART:20250110T080000Z\r\nDTEND:20250110T090000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:b\r\nSUMMARY:B\r\nDTSTART;VALUE=DATE:20250112\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newTestService(source FeedSource, store Store, client reconcile.RemoteClient, reporter Reporter) *SyncService {
	engine := reconcile.New(reconcile.Options{
		Translator: translate.New(time.UTC),
		Executor:   ratelimit.New(ratelimit.Options{MinInterval: time.Microsecond}),
		Store:      store,
	})
	svc := NewSyncService(SyncDeps{
		Source:   source,
		Resolver: feed.NewResolver(feed.Options{DefaultZone: time.UTC}),
		Engine:   engine,
		Client:   client,
		Store:    store,
		Reporter: reporter,
		Timeout:  time.Minute,
	})
	svc.newID = func() string { return "run-1" }
	return svc
}

func TestRunSyncsAndRecords(t *testing.T) {
	store := newMemoryStore()
	client := &countingClient{}
	reporter := &recordingReporter{}
	svc := newTestService(feedFunc(func(context.Context) ([]byte, error) { return []byte(testFeed), nil }), store, client, reporter)

	run, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != domain.RunSuccess || run.Result.Created != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(store.runs) != 1 || store.runs[0].ID != "run-1" || len(reporter.runs) != 1 {
		t.Fatalf("run not recorded: %+v %+v", store.runs, reporter.runs)
	}

	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Result.Operations() != 0 || second.Result.Skipped != 2 || client.creates != 2 {
		t.Fatalf("second run must be a no-op: %+v", second.Result)
	}
}

func TestRunFailsOnFeedError(t *testing.T) {
	store := newMemoryStore()
	reporter := &recordingReporter{}
	svc := newTestService(feedFunc(func(context.Context) ([]byte, error) {
		return nil, errors.New("503 Service Unavailable")
	}), store, &countingClient{}, reporter)

	run, err := svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fetch feed") {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if run.Status != domain.RunFailure || run.Failure == "" {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(store.runs) != 1 || store.runs[0].Status != domain.RunFailure || len(reporter.runs) != 1 {
		t.Fatalf("failed run not recorded")
	}
}

func TestRunRejectsNonCalendarBody(t *testing.T) {
	svc := newTestService(feedFunc(func(context.Context) ([]byte, error) {
		return []byte("<html>login</html>"), nil
	}), newMemoryStore(), &countingClient{}, nil)

	_, err := svc.Run(context.Background())
	if !errors.Is(err, feed.ErrNotCalendar) {
		t.Fatalf("expected ErrNotCalendar, got %v", err)
	}
}

func TestRunIsSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := newTestService(feedFunc(func(context.Context) ([]byte, error) {
		close(entered)
		<-release
		return []byte(testFeed), nil
	}), newMemoryStore(), &countingClient{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()
	<-entered

	if _, err := svc.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}
