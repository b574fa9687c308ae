package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tazhate/calmirror/config"
	"github.com/tazhate/calmirror/internal/clients/caldav"
	"github.com/tazhate/calmirror/internal/clients/gcal"
	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/scheduler"
	"github.com/tazhate/calmirror/internal/storage"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.sync.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary(run))
			if run.Status != domain.RunSuccess {
				return errors.New("sync finished with errors")
			}
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run reconciliation on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.cfg.Sync.Schedule, a.cfg.Timezone, a.sync, a.logger.Named("scheduler"))
			a.logger.Info("calmirror started",
				zap.String("remote", a.cfg.Remote.Kind),
				zap.String("calendar", a.cfg.Remote.CalendarID),
				zap.String("schedule", a.cfg.Sync.Schedule),
			)
			err = sched.Start(ctx, runNow)
			sched.Stop()
			a.logger.Info("calmirror stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", true, "Run once immediately on startup")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the state database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			logger.Info("database ready", zap.String("path", cfg.DatabasePath))
			return store.Close()
		},
	}
}

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Calendar and store the credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Remote.Kind != config.RemoteGoogle {
				return fmt.Errorf("auth is only needed for remote.kind=%s", config.RemoteGoogle)
			}

			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			oauthCfg := gcal.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Open this URL in a browser and paste the authorization code below:")
			fmt.Fprintln(out, oauthCfg.AuthCodeURL("calmirror", oauth2.AccessTypeOffline, oauth2.ApprovalForce))
			fmt.Fprint(out, "Code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && code == "" {
				return fmt.Errorf("read authorization code: %w", err)
			}
			code = strings.TrimSpace(code)
			if code == "" {
				return errors.New("empty authorization code")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := gcal.Exchange(ctx, oauthCfg, store, code); err != nil {
				return err
			}
			fmt.Fprintln(out, "Credentials stored.")
			return nil
		},
	}
}

func newCalendarsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List the calendar collections of the CalDAV account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Remote.Kind != config.RemoteCalDAV {
				return fmt.Errorf("calendars is only available for remote.kind=%s", config.RemoteCalDAV)
			}

			client := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.Remote.CalendarID)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			calendars, err := client.DiscoverCalendars(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME")
			for _, c := range calendars {
				fmt.Fprintf(w, "%s\t%s\n", c.Path, c.DisplayName)
			}
			return w.Flush()
		},
	}
}

func newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tCREATED\tUPDATED\tDELETED\tSKIPPED\tERRORS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.StartedAt.Local().Format(time.DateTime), r.Status,
					r.Result.Created, r.Result.Updated, r.Result.Deleted, r.Result.Skipped, len(r.Result.Errors))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func summary(run domain.RunRecord) string {
	s := string(run.Status) + ": " + run.Result.Summary()
	for _, e := range run.Result.Errors {
		s += "\n  " + e
	}
	return s
}
