package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tazhate/calmirror/config"
	"github.com/tazhate/calmirror/internal/clients/caldav"
	"github.com/tazhate/calmirror/internal/clients/gcal"
	"github.com/tazhate/calmirror/internal/feed"
	"github.com/tazhate/calmirror/internal/logging"
	"github.com/tazhate/calmirror/internal/notify"
	"github.com/tazhate/calmirror/internal/ratelimit"
	"github.com/tazhate/calmirror/internal/reconcile"
	"github.com/tazhate/calmirror/internal/service"
	"github.com/tazhate/calmirror/internal/storage"
	"github.com/tazhate/calmirror/internal/translate"
)

// app holds the wired components of one process.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Storage
	sync   *service.SyncService
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	client, err := newRemoteClient(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	var reporter service.Reporter
	if cfg.Telegram.Token != "" {
		sender, err := notify.NewTelegramSender(cfg.Telegram.Token)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init telegram: %w", err)
		}
		reporter = notify.NewNotifier(sender, cfg.Telegram.ChatID, cfg.Telegram.OnlyErrors, logger.Named("notify"))
	}

	executor := ratelimit.New(ratelimit.Options{
		MinInterval: cfg.RateLimit.MinInterval,
		BaseDelay:   cfg.RateLimit.BaseDelay,
		MaxDelay:    cfg.RateLimit.MaxDelay,
		MaxRetries:  cfg.RateLimit.MaxRetries,
		Logger:      logger.Named("ratelimit"),
	})
	engine := reconcile.New(reconcile.Options{
		Translator: translate.New(cfg.Timezone),
		Executor:   executor,
		Store:      store,
		Workers:    cfg.Sync.Workers,
		Logger:     logger.Named("reconcile"),
	})
	resolver := feed.NewResolver(feed.Options{
		Filter:      filterPolicy(cfg.Filter),
		DefaultZone: cfg.Timezone,
		Logger:      logger.Named("feed"),
	})

	syncSvc := service.NewSyncService(service.SyncDeps{
		Source:   feed.NewFetcher(cfg.Feed.URL, cfg.Feed.Timeout, logger.Named("fetch")),
		Resolver: resolver,
		Engine:   engine,
		Client:   client,
		Store:    store,
		Reporter: reporter,
		Timeout:  cfg.Sync.RunTimeout,
		Logger:   logger,
	})

	return &app{cfg: cfg, logger: logger, store: store, sync: syncSvc}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

func newRemoteClient(ctx context.Context, cfg *config.Config, store *storage.Storage, logger *zap.Logger) (reconcile.RemoteClient, error) {
	switch cfg.Remote.Kind {
	case config.RemoteCalDAV:
		c := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.Remote.CalendarID)
		if !c.IsConfigured() {
			return nil, fmt.Errorf("CalDAV not configured")
		}
		return c, nil
	default:
		oauthCfg := gcal.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
		c, err := gcal.New(ctx, oauthCfg, store, cfg.Remote.CalendarID, logger.Named("gcal"))
		if err != nil {
			return nil, fmt.Errorf("init google calendar: %w", err)
		}
		return c, nil
	}
}

func filterPolicy(f config.FilterConfig) feed.Filter {
	return feed.Policy{
		TitleBlocklist:     f.TitleBlocklist,
		Principal:          f.Principal,
		ExcludeDeclined:    f.ExcludeDeclined,
		ExcludeTentative:   f.ExcludeTentative,
		ExcludeTransparent: f.ExcludeTransparent,
		ExcludeCancelled:   f.ExcludeCancelled,
	}
}
