package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/tazhate/calmirror/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "calmirror.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStorage(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestMappingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	master := domain.MappingRecord{Identity: "series-1", RemoteEventID: "r1", LastAppliedFingerprint: "fp1"}
	of := "series-1"
	date := time.Date(2025, 1, 21, 8, 0, 0, 0, time.UTC)
	exception := domain.MappingRecord{
		Identity:               "series-1::20250121T080000Z",
		RemoteEventID:          "r2",
		LastAppliedFingerprint: "fp2",
		IsException:            true,
		ExceptionOfIdentity:    &of,
		ExceptionDate:          &date,
	}
	for _, rec := range []domain.MappingRecord{exception, master} {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.Identity, err)
		}
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 2 || all[0].Identity != "series-1" {
		t.Fatalf("unexpected mappings %+v", all)
	}
	got := all[1]
	if !got.IsException || got.ExceptionOfIdentity == nil || *got.ExceptionOfIdentity != "series-1" {
		t.Fatalf("exception fields not stored: %+v", got)
	}
	if got.ExceptionDate == nil || !got.ExceptionDate.Equal(date) {
		t.Fatalf("unexpected exception date %v", got.ExceptionDate)
	}
	if all[0].ExceptionOfIdentity != nil || all[0].ExceptionDate != nil {
		t.Fatalf("master must not carry exception fields: %+v", all[0])
	}

	byMaster, err := s.ListByMaster(ctx, "series-1")
	if err != nil {
		t.Fatalf("list by master: %v", err)
	}
	if len(byMaster) != 1 || byMaster[0].Identity != exception.Identity {
		t.Fatalf("unexpected exceptions %+v", byMaster)
	}

	master.LastAppliedFingerprint = "fp1b"
	if err := s.Upsert(ctx, master); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := s.GetMapping(ctx, "series-1")
	if err != nil || rec == nil {
		t.Fatalf("get mapping: %v %v", rec, err)
	}
	if rec.LastAppliedFingerprint != "fp1b" || rec.RemoteEventID != "r1" {
		t.Fatalf("unexpected updated mapping %+v", rec)
	}

	if err := s.Delete(ctx, exception.Identity); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if rec, err := s.GetMapping(ctx, exception.Identity); err != nil || rec != nil {
		t.Fatalf("expected mapping to be gone, got %v %v", rec, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if tok, err := s.LoadToken(ctx, "google"); err != nil || tok != nil {
		t.Fatalf("expected no token, got %v %v", tok, err)
	}

	expiry := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveToken(ctx, "google", &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", Expiry: expiry}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveToken(ctx, "google", &oauth2.Token{AccessToken: "a2", TokenType: "Bearer", Expiry: expiry.Add(time.Hour)}); err != nil {
		t.Fatalf("save refreshed: %v", err)
	}

	tok, err := s.LoadToken(ctx, "google")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tok.AccessToken != "a2" || tok.RefreshToken != "r1" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if !tok.Expiry.Equal(expiry.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", tok.Expiry)
	}
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := []domain.RunRecord{
		{
			ID: "run-1", StartedAt: start, FinishedAt: start.Add(time.Second), Status: domain.RunSuccess,
			Result: domain.ReconciliationResult{Created: 2, Skipped: 1},
		},
		{
			ID: "run-2", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second), Status: domain.RunPartial,
			Result: domain.ReconciliationResult{Updated: 1, Errors: []string{"a: boom", "b: bang"}},
		},
	}
	for _, run := range runs {
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("record %s: %v", run.ID, err)
		}
	}

	got, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "run-2" {
		t.Fatalf("unexpected runs %+v", got)
	}
	if got[0].Status != domain.RunPartial || len(got[0].Result.Errors) != 2 || got[0].Result.Updated != 1 {
		t.Fatalf("unexpected latest run %+v", got[0])
	}
	if got[1].Result.Created != 2 || got[1].Result.Skipped != 1 || got[1].Result.Errors != nil {
		t.Fatalf("unexpected first run %+v", got[1])
	}
}
