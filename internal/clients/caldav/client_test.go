package caldav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tazhate/calmirror/internal/reconcile"
	"github.com/tazhate/calmirror/internal/translate"
)

type fakeServer struct {
	mu      sync.Mutex
	objects map[string]string
	auth    string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{objects: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		user, _, _ := r.BasicAuth()
		fs.auth = user
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			fs.objects[r.URL.Path] = string(data)
			w.Header().Set("ETag", `"1"`)
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			if _, ok := fs.objects[r.URL.Path]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(fs.objects, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, "alice", "secret", "/calendars/alice/mirror")
	c.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestCreateEventWritesRecurrence(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(srv)

	body := translate.Body{
		Identity:     "series-1",
		Summary:      "Team sync",
		Start:        translate.DateTime{DateTime: "2025-01-07T09:00:00+01:00", TimeZone: "Europe/Berlin"},
		End:          translate.DateTime{DateTime: "2025-01-07T09:30:00+01:00", TimeZone: "Europe/Berlin"},
		Status:       "confirmed",
		Transparency: "opaque",
		Recurrence: []string{
			"RRULE:FREQ=WEEKLY;BYDAY=TU,TH",
			"EXDATE;TZID=Europe/Berlin:20250121T090000",
		},
	}
	path, err := c.CreateEvent(context.Background(), body)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(path, "/calendars/alice/mirror/") || !strings.HasSuffix(path, ".ics") {
		t.Fatalf("unexpected path %q", path)
	}
	if again := c.objectPath("series-1"); again != path {
		t.Fatalf("object path is not stable: %q vs %q", again, path)
	}

	data := fs.objects[path]
	for _, want := range []string{
		"SUMMARY:Team sync",
		"DTSTART;TZID=Europe/Berlin:20250107T090000",
		"DTEND;TZID=Europe/Berlin:20250107T093000",
		"RRULE:FREQ=WEEKLY;BYDAY=TU,TH",
		"EXDATE;TZID=Europe/Berlin:20250121T090000",
		"STATUS:CONFIRMED",
		"TRANSP:OPAQUE",
	} {
		if !strings.Contains(data, want) {
			t.Fatalf("object is missing %q:\n%s", want, data)
		}
	}
	if fs.auth != "alice" {
		t.Fatalf("basic auth not sent")
	}
}

func TestCreateAllDayEvent(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(srv)

	path, err := c.CreateEvent(context.Background(), translate.Body{
		Identity: "trip",
		Summary:  "Trip",
		Start:    translate.DateTime{Date: "2025-03-10"},
		End:      translate.DateTime{Date: "2025-03-13"},
		AllDay:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data := fs.objects[path]
	for _, want := range []string{"DTSTART;VALUE=DATE:20250310", "DTEND;VALUE=DATE:20250313"} {
		if !strings.Contains(data, want) {
			t.Fatalf("object is missing %q:\n%s", want, data)
		}
	}
}

func TestDeleteEventReportsGone(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(srv)
	ctx := context.Background()

	path, err := c.CreateEvent(ctx, translate.Body{
		Identity: "a",
		Summary:  "A",
		Start:    translate.DateTime{DateTime: "2025-01-07T09:00:00Z"},
		End:      translate.DateTime{DateTime: "2025-01-07T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.DeleteEvent(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fs.objects) != 0 {
		t.Fatalf("object not removed")
	}
	if err := c.DeleteEvent(ctx, path); !errors.Is(err, reconcile.ErrRemoteGone) {
		t.Fatalf("expected ErrRemoteGone, got %v", err)
	}
}

func TestParseLine(t *testing.T) {
	prop, err := parseLine("EXDATE;VALUE=DATE:20250310")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if prop.Name != "EXDATE" || prop.Value != "20250310" || prop.Params.Get("VALUE") != "DATE" {
		t.Fatalf("unexpected prop %+v", prop)
	}
	if _, err := parseLine("garbage"); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestDeleteEventTransportFailureIsNotGone(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	err := c.DeleteEvent(context.Background(), "/calendars/alice/mirror/7f2a4040-1c3e-5d10-9a41-0410aa000404.ics")
	if err == nil {
		t.Fatalf("expected an error from a closed server")
	}
	if errors.Is(err, reconcile.ErrRemoteGone) {
		t.Fatalf("connection failure must not be reported as gone: %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", errors.New("404 Not Found: no such object"), true},
		{"gone", errors.New("410 Gone"), true},
		{"server error", errors.New("500 Internal Server Error"), false},
		{"code inside the message", errors.New("503 Service Unavailable: object 404 busy"), false},
		{"transport error with code in URL", &url.Error{
			Op:  "Delete",
			URL: "https://dav.example.com/cal/7f2a4040.ics",
			Err: errors.New("connection refused"),
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Fatalf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEncodeDescribesReferencedZones(t *testing.T) {
	c := NewClient("https://dav.example.com", "alice", "secret", "/cal")
	c.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	cal, err := c.encode(translate.Body{
		Identity:   "series-1",
		Summary:    "Team sync",
		Start:      translate.DateTime{DateTime: "2025-01-07T09:00:00+01:00", TimeZone: "Europe/Berlin"},
		End:        translate.DateTime{DateTime: "2025-01-07T09:30:00+01:00", TimeZone: "Europe/Berlin"},
		Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=TU", "EXDATE;TZID=Europe/Berlin:20250121T090000"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text, err := serialize(cal)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for _, want := range []string{
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:DAYLIGHT",
		"DTSTART:20240331T020000",
		"TZOFFSETFROM:+0100",
		"TZOFFSETTO:+0200",
		"RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU",
		"BEGIN:STANDARD",
		"DTSTART:20241027T030000",
		"RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("calendar is missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, "BEGIN:VTIMEZONE"); n != 1 {
		t.Fatalf("expected one VTIMEZONE, got %d", n)
	}
	if strings.Index(text, "BEGIN:VTIMEZONE") > strings.Index(text, "BEGIN:VEVENT") {
		t.Fatalf("VTIMEZONE must precede the event")
	}
}

func TestEncodeUTCEventNeedsNoZone(t *testing.T) {
	c := NewClient("https://dav.example.com", "alice", "secret", "/cal")
	cal, err := c.encode(translate.Body{
		Identity: "a",
		Summary:  "A",
		Start:    translate.DateTime{DateTime: "2025-01-07T09:00:00Z"},
		End:      translate.DateTime{DateTime: "2025-01-07T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text, err := serialize(cal)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if strings.Contains(text, "VTIMEZONE") || !strings.Contains(text, "DTSTART:20250107T090000Z") {
		t.Fatalf("unexpected UTC encoding:\n%s", text)
	}
}

func serialize(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", err
	}
	return buf.String(), nil
}
