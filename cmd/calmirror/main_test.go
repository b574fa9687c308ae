package main

import (
	"testing"

	"github.com/tazhate/calmirror/config"
	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/feed"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"sync", "serve", "migrate", "auth", "calendars", "runs"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("feed-url") == nil {
		t.Fatal("expected --feed-url flag")
	}
}

func TestFilterPolicyFromConfig(t *testing.T) {
	policy := filterPolicy(config.FilterConfig{TitleBlocklist: []string{"Lunch"}, ExcludeDeclined: true})
	reason, excluded := policy.Exclude(&feed.Entry{Summary: "Team lunch"})
	if !excluded || reason == "" {
		t.Fatalf("expected blocked title to be excluded, got %q %v", reason, excluded)
	}
	if _, excluded := policy.Exclude(&feed.Entry{Summary: "Standup"}); excluded {
		t.Fatal("unexpected exclusion")
	}
}

func TestSummaryListsErrors(t *testing.T) {
	run := domain.RunRecord{
		Status: domain.RunPartial,
		Result: domain.ReconciliationResult{Created: 1, Errors: []string{"a: boom"}},
	}
	want := "partial: created 1, updated 0, deleted 0, unchanged 0, errors 1\n  a: boom"
	if got := summary(run); got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}
