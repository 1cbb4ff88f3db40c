package token

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/conf"
)

const requestTimeout = 30 * time.Second

// Command groups the push token subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or refresh the push token",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current push token",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := api.NewClientFromSettings(settings, requestTimeout)
				if err != nil {
					return err
				}
				defer client.Close()

				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				state, err := client.State(ctx)
				if err != nil {
					return err
				}
				if state.Token == "" {
					return fmt.Errorf("no push token: %s", state.Error)
				}
				synced := "not synced"
				if state.TokenSynced {
					synced = "synced"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", state.Token, synced)
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Fetch the token again and sync it to the backend",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := api.NewClientFromSettings(settings, requestTimeout)
				if err != nil {
					return err
				}
				defer client.Close()

				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				token, err := client.RefreshToken(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			},
		},
	)
	return cmd
}
