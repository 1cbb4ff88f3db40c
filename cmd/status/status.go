package status

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/conf"
)

const requestTimeout = 15 * time.Second

// Command prints the agent's notification state. Its permission subcommand
// asks for notification permission.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agent's notification state",
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
			printState(cmd.OutOrStdout(), state)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "permission",
		Short: "Request notification permission",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The agent may be waiting on a terminal prompt
			client, err := api.NewClientFromSettings(settings, 5*time.Minute)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.RequestPermission(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "permission: %s\n", state)
			return nil
		},
	})
	return cmd
}

func printState(w io.Writer, s *api.StateResponse) {
	fmt.Fprintf(w, "ready:       %t\n", s.Ready)
	fmt.Fprintf(w, "permission:  %s\n", s.Permission)
	if s.Token != "" {
		fmt.Fprintf(w, "token:       %s (synced: %t)\n", s.Token, s.TokenSynced)
	} else {
		fmt.Fprintln(w, "token:       none")
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error:       %s\n", s.Error)
	}
	fmt.Fprintf(w, "channels:    %d\n", len(s.Channels))
	for _, ch := range s.Channels {
		fmt.Fprintf(w, "  %-14s %-8s %s\n", ch.ID, ch.Importance, ch.Label)
	}
	fmt.Fprintf(w, "events:      %d received, %d processed, %d dropped\n",
		s.Stats.EventsReceived, s.Stats.EventsProcessed, s.Stats.EventsDropped)
}
