package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/notifyd/cmd/notify"
	"github.com/tphakala/notifyd/cmd/run"
	"github.com/tphakala/notifyd/cmd/schedule"
	"github.com/tphakala/notifyd/cmd/status"
	"github.com/tphakala/notifyd/cmd/token"
	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "notifyd",
		Short:         "notifyd notification agent",
		Version:       fmt.Sprintf("%s (built %s)", settings.Version, settings.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	runCmd := run.Command(settings)
	rootCmd.AddCommand(
		runCmd,
		notify.Command(settings),
		schedule.Command(settings),
		token.Command(settings),
		status.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Only the agent reports to Sentry, the client commands are short lived
		return initialize(settings, cmd.Name() == runCmd.Name())
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush(telemetryFlushTimeout)
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize sets up logging and error telemetry before any subcommand runs.
func initialize(settings *conf.Settings, withTelemetry bool) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if withTelemetry {
		if err := telemetry.InitSentry(settings, nil); err != nil {
			// Telemetry is optional, a bad DSN must not stop the agent
			central.Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Address of the agent control API")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	if err := viper.BindPFlag("api.listen", rootCmd.PersistentFlags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
