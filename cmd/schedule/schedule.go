package schedule

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/notification"
)

const requestTimeout = 15 * time.Second

// Command groups the scheduled trigger subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect or cancel scheduled notifications",
	}
	cmd.AddCommand(listCommand(settings), cancelCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(settings, func(ctx context.Context, c *api.Client) error {
				pending, err := c.Pending(ctx)
				if err != nil {
					return err
				}
				return printTriggers(cmd.OutOrStdout(), pending, time.Now())
			})
		},
	}
}

func cancelCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel every pending trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(settings, func(ctx context.Context, c *api.Client) error {
				if err := c.CancelAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all scheduled notifications cancelled")
				return nil
			})
		},
	}
}

func withClient(settings *conf.Settings, fn func(context.Context, *api.Client) error) error {
	client, err := api.NewClientFromSettings(settings, requestTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(ctx, client)
}

func printTriggers(w io.Writer, triggers []notification.ScheduledTrigger, now time.Time) error {
	if len(triggers) == 0 {
		_, err := fmt.Fprintln(w, "no pending notifications")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFIRES\tIN\tCHANNEL\tTITLE")
	for _, t := range triggers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.FireAt.Local().Format(time.DateTime),
			t.FireAt.Sub(now).Round(time.Second),
			t.ChannelID,
			t.Payload.Title)
	}
	return tw.Flush()
}
