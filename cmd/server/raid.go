package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edvengers/zera-pilot/internal/raid"
)

func newRaidCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raid",
		Short: "Start or inspect the live raid",
	}
	cmd.AddCommand(newRaidStartCmd(a), newRaidStatusCmd(a))
	return cmd
}

func newRaidStartCmd(a *app) *cobra.Command {
	var (
		maxHP     int
		answerKey string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a raid at full health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			answerKey = strings.TrimSpace(answerKey)
			if answerKey == "" {
				return errors.New("--key must not be blank")
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			if err := raid.NewManager(st, a.logger).StartRaid(cmd.Context(), maxHP, answerKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Raid started: %d HP, key %q\n", maxHP, answerKey)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxHP, "hp", 100, "boss max health")
	cmd.Flags().StringVar(&answerKey, "key", "", "answer key students must type")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newRaidStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show boss health and the answer key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			sess, err := raid.NewManager(st, a.logger).Read(cmd.Context())
			if errors.Is(err, raid.ErrNoRaid) {
				fmt.Fprintln(cmd.OutOrStdout(), "No active raid.")
				return nil
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HP\tMAX\tPERCENT\tKEY\tDEFEATED")
			fmt.Fprintf(w, "%d\t%d\t%.0f%%\t%s\t%t\n", sess.CurrentHP, sess.MaxHP, sess.Percent(), sess.AnswerKey, sess.Defeated())
			return w.Flush()
		},
	}
}
