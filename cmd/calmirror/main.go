package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tazhate/calmirror/config"
)

var cfgFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "calmirror",
		Short:         "Mirror an iCalendar feed into Google Calendar or a CalDAV calendar",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSyncCommand(),
		newServeCommand(),
		newMigrateCommand(),
		newAuthCommand(),
		newCalendarsCommand(),
		newRunsCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("feed-url", defaults.GetString("feed.url"), "iCalendar feed URL (http, https or webcal)")
	flags.String("remote", defaults.GetString("remote.kind"), "Remote calendar kind (google, caldav)")
	flags.String("calendar-id", defaults.GetString("remote.calendar_id"), "Google calendar id or CalDAV collection path")
	flags.String("timezone", defaults.GetString("timezone.default"), "Zone for floating times and zone-less events")
	flags.Int("workers", defaults.GetInt("sync.workers"), "Concurrent remote calls for independent events")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "feed.url", "feed-url")
	bindFlag(cmd, "remote.kind", "remote")
	bindFlag(cmd, "remote.calendar_id", "calendar-id")
	bindFlag(cmd, "timezone.default", "timezone")
	bindFlag(cmd, "sync.workers", "workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("calmirror")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/calmirror")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
