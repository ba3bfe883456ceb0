package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				stats, err := a.engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderAccounts(stats))
				fmt.Fprintf(out, "\nRequests: %d total, %d successful, %d today\n",
					stats.TotalRequests, stats.SuccessfulRequests, stats.RequestsToday)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent outcomes from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if a.journal == nil {
					return fmt.Errorf("outcome journal is disabled (journal.enabled = false)")
				}
				recent, err := a.journal.Recent(limit)
				if err != nil {
					return err
				}
				usage, err := a.journal.Usage()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]interface{}{"recent": recent, "usage": usage})
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderHistory(recent))
				if u := renderUsage(usage); u != "" {
					fmt.Fprint(out, "\n"+u)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print history as JSON")
	return cmd
}
