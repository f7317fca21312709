package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/domain"
)

// alertLister is the read side of the alert channel.
type alertLister interface {
	List(ctx context.Context) (alert.Set, error)
}

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Read student alerts",
	}
	cmd.AddCommand(newAlertsListCmd(a), newAlertsWatchCmd(a))
	return cmd
}

func newAlertsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every alert, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			set, err := alert.NewChannel(st, a.logger).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(set) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No alerts.")
				return nil
			}
			return printAlerts(cmd.OutOrStdout(), set.Sorted(), true)
		},
	}
}

func newAlertsWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new alerts as they arrive",
		Long: "Polls the alert collection and prints alerts raised since the previous poll.\n" +
			"Alerts that exist when the command starts are printed first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			return watchAlerts(cmd.Context(), alert.NewChannel(st, a.logger), interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

// watchAlerts prints alerts that appear between polls until ctx ends.
func watchAlerts(ctx context.Context, l alertLister, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := alert.Set{}
	for {
		cur, err := l.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if fresh := alert.NewSince(prev, cur); len(fresh) > 0 {
			if err := printAlerts(out, fresh, false); err != nil {
				return err
			}
		}
		prev = cur

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printAlerts(out io.Writer, alerts []domain.Alert, header bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if header {
		fmt.Fprintln(w, "TIME\tTYPE\tSTUDENT\tMESSAGE")
	}
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.Timestamp.Local().Format(time.TimeOnly), a.Type, a.StudentName, a.Message)
	}
	return w.Flush()
}
