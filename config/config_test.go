package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	v.Set("feed.url", "https://example.com/cal.ics")
	v.Set("google.client_id", "id")
	v.Set("google.client_secret", "secret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Kind != RemoteGoogle || cfg.Remote.CalendarID != "primary" {
		t.Fatalf("unexpected remote %+v", cfg.Remote)
	}
	if cfg.Sync.Workers != 1 || cfg.Sync.RunTimeout != 10*time.Minute || cfg.Sync.Schedule != defaultSchedule {
		t.Fatalf("unexpected sync %+v", cfg.Sync)
	}
	if cfg.RateLimit.MaxRetries != 5 || cfg.RateLimit.MinInterval != 200*time.Millisecond {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if !cfg.Filter.ExcludeDeclined || cfg.Filter.ExcludeTentative {
		t.Fatalf("unexpected filter %+v", cfg.Filter)
	}
	if cfg.Timezone != time.UTC {
		t.Fatalf("unexpected timezone %v", cfg.Timezone)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CALMIRROR_FEED_URL", "webcal://example.com/cal.ics")
	t.Setenv("CALMIRROR_REMOTE_KIND", "CalDAV")
	t.Setenv("CALMIRROR_REMOTE_CALENDAR_ID", "/calendars/alice/mirror/")
	t.Setenv("CALMIRROR_CALDAV_USERNAME", "alice")
	t.Setenv("CALMIRROR_CALDAV_PASSWORD", "secret")
	t.Setenv("CALMIRROR_FILTER_TITLE_BLOCKLIST", "Focus time, Lunch")
	t.Setenv("CALMIRROR_TIMEZONE_DEFAULT", "Europe/Berlin")
	t.Setenv("CALMIRROR_SYNC_WORKERS", "4")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Kind != RemoteCalDAV || cfg.CalDAV.Username != "alice" {
		t.Fatalf("unexpected remote %+v %+v", cfg.Remote, cfg.CalDAV)
	}
	if strings.Join(cfg.Filter.TitleBlocklist, "|") != "Focus time|Lunch" {
		t.Fatalf("unexpected blocklist %q", cfg.Filter.TitleBlocklist)
	}
	if cfg.Timezone.String() != "Europe/Berlin" || cfg.Sync.Workers != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"missing feed", map[string]any{}, "feed.url"},
		{"unknown remote", map[string]any{"feed.url": "x", "remote.kind": "outlook"}, "remote.kind"},
		{"google without secret", map[string]any{"feed.url": "x", "google.client_id": "id"}, "google.client_secret"},
		{"caldav without path", map[string]any{"feed.url": "x", "remote.kind": "caldav", "caldav.username": "a", "caldav.password": "b"}, "remote.calendar_id"},
		{"bad schedule", map[string]any{"feed.url": "x", "google.client_id": "id", "google.client_secret": "s", "sync.schedule": "every day"}, "sync.schedule"},
		{"no workers", map[string]any{"feed.url": "x", "google.client_id": "id", "google.client_secret": "s", "sync.workers": 0}, "sync.workers"},
		{"telegram without chat", map[string]any{"feed.url": "x", "google.client_id": "id", "google.client_secret": "s", "telegram.token": "t"}, "telegram.chat_id"},
		{"bad timezone", map[string]any{"feed.url": "x", "timezone.default": "Mars/Base"}, "timezone.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
