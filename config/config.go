// Package config loads runtime configuration from flags, environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "CALMIRROR"
	defaultDatabasePath = "./data/calmirror.db"
	defaultLogLevel     = "info"
	defaultSchedule     = "*/15 * * * *"
)

// Remote calendar kinds.
const (
	RemoteGoogle = "google"
	RemoteCalDAV = "caldav"
)

type FeedConfig struct {
	URL     string
	Timeout time.Duration
}

type FilterConfig struct {
	TitleBlocklist     []string
	Principal          string
	ExcludeDeclined    bool
	ExcludeTentative   bool
	ExcludeTransparent bool
	ExcludeCancelled   bool
}

type RemoteConfig struct {
	Kind       string
	CalendarID string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

type CalDAVConfig struct {
	URL      string
	Username string
	Password string
}

type SyncConfig struct {
	Schedule   string
	RunTimeout time.Duration
	Workers    int
}

type RateLimitConfig struct {
	MinInterval time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxRetries  int
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	OnlyErrors bool
}

// Config is the full runtime configuration.
type Config struct {
	LogLevel     string
	DatabasePath string
	Timezone     *time.Location
	Feed         FeedConfig
	Filter       FilterConfig
	Remote       RemoteConfig
	Google       GoogleConfig
	CalDAV       CalDAVConfig
	Sync         SyncConfig
	RateLimit    RateLimitConfig
	Telegram     TelegramConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on v. Every key can be
// set through CALMIRROR_<KEY>, with dots replaced by underscores.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("timezone.default", "UTC")

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.timeout", 30*time.Second)

	v.SetDefault("filter.title_blocklist", []string{})
	v.SetDefault("filter.principal", "")
	v.SetDefault("filter.exclude_declined", true)
	v.SetDefault("filter.exclude_tentative", false)
	v.SetDefault("filter.exclude_transparent", false)
	v.SetDefault("filter.exclude_cancelled", false)

	v.SetDefault("remote.kind", RemoteGoogle)
	v.SetDefault("remote.calendar_id", "primary")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("caldav.url", "")
	v.SetDefault("caldav.username", "")
	v.SetDefault("caldav.password", "")

	v.SetDefault("sync.schedule", defaultSchedule)
	v.SetDefault("sync.run_timeout", 10*time.Minute)
	v.SetDefault("sync.workers", 1)

	v.SetDefault("ratelimit.min_interval", 200*time.Millisecond)
	v.SetDefault("ratelimit.base_delay", time.Second)
	v.SetDefault("ratelimit.max_delay", 32*time.Second)
	v.SetDefault("ratelimit.max_retries", 5)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.only_errors", false)
}

// Load parses runtime configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	tzName := strings.TrimSpace(v.GetString("timezone.default"))
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone.default %q: %w", tzName, err)
	}

	cfg := &Config{
		LogLevel:     v.GetString("log.level"),
		DatabasePath: v.GetString("database.path"),
		Timezone:     tz,
		Feed: FeedConfig{
			URL:     strings.TrimSpace(v.GetString("feed.url")),
			Timeout: v.GetDuration("feed.timeout"),
		},
		Filter: FilterConfig{
			TitleBlocklist:     stringList(v.Get("filter.title_blocklist")),
			Principal:          strings.TrimSpace(v.GetString("filter.principal")),
			ExcludeDeclined:    v.GetBool("filter.exclude_declined"),
			ExcludeTentative:   v.GetBool("filter.exclude_tentative"),
			ExcludeTransparent: v.GetBool("filter.exclude_transparent"),
			ExcludeCancelled:   v.GetBool("filter.exclude_cancelled"),
		},
		Remote: RemoteConfig{
			Kind:       strings.ToLower(strings.TrimSpace(v.GetString("remote.kind"))),
			CalendarID: strings.TrimSpace(v.GetString("remote.calendar_id")),
		},
		Google: GoogleConfig{
			ClientID:     v.GetString("google.client_id"),
			ClientSecret: v.GetString("google.client_secret"),
		},
		CalDAV: CalDAVConfig{
			URL:      v.GetString("caldav.url"),
			Username: v.GetString("caldav.username"),
			Password: v.GetString("caldav.password"),
		},
		Sync: SyncConfig{
			Schedule:   strings.TrimSpace(v.GetString("sync.schedule")),
			RunTimeout: v.GetDuration("sync.run_timeout"),
			Workers:    v.GetInt("sync.workers"),
		},
		RateLimit: RateLimitConfig{
			MinInterval: v.GetDuration("ratelimit.min_interval"),
			BaseDelay:   v.GetDuration("ratelimit.base_delay"),
			MaxDelay:    v.GetDuration("ratelimit.max_delay"),
			MaxRetries:  v.GetInt("ratelimit.max_retries"),
		},
		Telegram: TelegramConfig{
			Token:      v.GetString("telegram.token"),
			ChatID:     v.GetInt64("telegram.chat_id"),
			OnlyErrors: v.GetBool("telegram.only_errors"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Remote.Kind {
	case RemoteGoogle:
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
			return fmt.Errorf("google.client_id and google.client_secret are required for remote.kind=google")
		}
	case RemoteCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			return fmt.Errorf("caldav.username and caldav.password are required for remote.kind=caldav")
		}
		if c.Remote.CalendarID == "" || c.Remote.CalendarID == "primary" {
			return fmt.Errorf("remote.calendar_id must be a calendar collection path for remote.kind=caldav")
		}
	default:
		return fmt.Errorf("remote.kind must be %q or %q, got %q", RemoteGoogle, RemoteCalDAV, c.Remote.Kind)
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("invalid sync.schedule: %w", err)
	}
	if c.Sync.RunTimeout <= 0 {
		return fmt.Errorf("sync.run_timeout must be positive")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("ratelimit.max_retries must not be negative")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}

// stringList accepts both list values and a single comma-separated string,
// the form a list takes in an environment variable.
func stringList(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []any:
		for _, item := range v {
			values = append(values, fmt.Sprint(item))
		}
	}

	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
