package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/notification"
)

const requestTimeout = 15 * time.Second

// Command returns a cobra command that presents or schedules a notification
// through a running agent.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		title    string
		body     string
		category string
		priority string
		sound    string
		at       string
		in       time.Duration
		data     []string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Show or schedule a notification",
		Long: `Send a notification to the running agent.

Examples:
  # Show a notification now
  notifyd notify --title="Build finished" --body="All tests passed"

  # Message notification that opens a thread when tapped
  notifyd notify --category=message --title="Anna" --body="Lunch?" --data="thread_id=42"

  # Schedule a reminder
  notifyd notify --category=appointment --title="Dentist" --in=1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := notification.Payload{
				Title:    title,
				Body:     body,
				Category: notification.ParseCategory(category),
				Priority: notification.ParsePriority(priority),
				Sound:    sound,
			}
			if len(data) > 0 {
				payload.Data = make(map[string]any, len(data))
				for _, kv := range data {
					key, value, ok := strings.Cut(kv, "=")
					if !ok || strings.TrimSpace(key) == "" {
						return fmt.Errorf("invalid data %q, expected key=value", kv)
					}
					payload.Data[strings.TrimSpace(key)] = value
				}
			}
			if err := payload.Validate(); err != nil {
				return err
			}

			fireAt, err := fireTime(at, in, time.Now())
			if err != nil {
				return err
			}

			client, err := api.NewClientFromSettings(settings, requestTimeout)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			if fireAt.IsZero() {
				res, err := client.Present(ctx, payload)
				if err != nil {
					return err
				}
				if !res.Shown {
					fmt.Fprintln(cmd.OutOrStdout(), "notification was not shown, check the permission state")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notification shown: %s\n", res.ID)
				return nil
			}

			res, err := client.Schedule(ctx, payload, fireAt)
			if err != nil {
				return err
			}
			switch {
			case res.Scheduled:
				fmt.Fprintf(cmd.OutOrStdout(), "notification scheduled for %s: %s\n", fireAt.Format(time.RFC3339), res.ID)
			case res.ID != "":
				fmt.Fprintf(cmd.OutOrStdout(), "trigger already fired: %s\n", res.ID)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "notification was not scheduled, check the permission state")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&body, "body", "", "Notification body")
	cmd.Flags().StringVar(&category, "category", string(notification.CategoryGeneral), "Category: message, email, appointment, payment or general")
	cmd.Flags().StringVar(&priority, "priority", string(notification.PriorityDefault), "Priority: low, default or high")
	cmd.Flags().StringVar(&sound, "sound", "", "Sound name")
	cmd.Flags().StringVar(&at, "at", "", "Schedule for this RFC3339 time instead of showing now")
	cmd.Flags().DurationVar(&in, "in", 0, "Schedule after this delay instead of showing now")
	cmd.Flags().StringArrayVar(&data, "data", nil, "Data entry as key=value, may be repeated")

	return cmd
}

// fireTime resolves --at and --in. A zero time means show immediately.
func fireTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	if at != "" && in != 0 {
		return time.Time{}, fmt.Errorf("--at and --in are mutually exclusive")
	}
	if in < 0 {
		return time.Time{}, fmt.Errorf("--in must be positive")
	}
	if in > 0 {
		return now.Add(in), nil
	}
	if at == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", at, err)
	}
	return t, nil
}
