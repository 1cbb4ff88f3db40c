package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/notifyd/internal/agent"
	"github.com/tphakala/notifyd/internal/conf"
)

// Command creates the command that runs the agent in the foreground.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the notification agent",
		Long:  "Start the notification agent and keep it running until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return agent.Run(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().BoolVar(&settings.API.Enabled, "api", viper.GetBool("api.enabled"), "Serve the local control API")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Connect the shell bridge to the MQTT broker")
	cmd.Flags().StringVar(&settings.MQTT.Broker, "broker", viper.GetString("mqtt.broker"), "MQTT broker URL (tcp://host:port)")
	cmd.Flags().StringVar(&settings.Permission.Policy, "permission", viper.GetString("permission.policy"), "Permission policy: grant, deny, provisional or terminal")
	cmd.Flags().StringVar(&settings.KVStore.Driver, "store", viper.GetString("kvstore.driver"), "Key-value store driver: sqlite, mysql or memory")

	for flag, key := range map[string]string{
		"api":        "api.enabled",
		"mqtt":       "mqtt.enabled",
		"broker":     "mqtt.broker",
		"permission": "permission.policy",
		"store":      "kvstore.driver",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %v", err)
		}
	}

	return nil
}
