package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"account-rotator/core"
)

func newSelectCmd(opts *rootOptions) *cobra.Command {
	var (
		force  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Pick the account for the next request and print its key",
		Example: `  KEY=$(account-rotator select)
  account-rotator select --force --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				sel, err := a.engine.SelectAccount(cmd.Context(), force)
				if err != nil {
					return err
				}
				if sel == nil {
					return fmt.Errorf("no accounts configured; add one with `account-rotator add <key>`")
				}
				if asJSON {
					return writeJSON(cmd, sel)
				}
				fmt.Fprintln(cmd.OutOrStdout(), sel.Account.Key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rotate away from the current account")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print index, reason and account as JSON")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report the outcome of a request made with an account",
	}
	cmd.AddCommand(
		newReportSuccessCmd(opts),
		newReportRateLimitedCmd(opts),
		newReportFailureCmd(opts),
		newReportBillingCmd(opts),
		newReportHTTPCmd(opts),
	)
	return cmd
}

func newReportSuccessCmd(opts *rootOptions) *cobra.Command {
	var ms int64
	cmd := &cobra.Command{
		Use:   "success <index>",
		Short: "Record a successful request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			var responseTime *int64
			if cmd.Flags().Changed("ms") {
				responseTime = &ms
			}
			return withApp(opts, func(a *app) error {
				account, err := a.engine.ReportSuccess(cmd.Context(), index, responseTime, a.engine.Today())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s health %d\n", account.Name, account.HealthScore)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&ms, "ms", 0, "response time in milliseconds")
	return cmd
}

func newReportRateLimitedCmd(opts *rootOptions) *cobra.Command {
	var retryAfter time.Duration
	cmd := &cobra.Command{
		Use:   "rate-limited <index>",
		Short: "Record a rate-limit response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				account, err := a.engine.ReportRateLimited(cmd.Context(), index, retryAfter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rate limited until %s\n",
					account.Name, time.UnixMilli(account.RateLimitResetTime).Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retryAfter, "retry-after", core.DefaultRateLimitBackoff, "how long the provider asked to wait")
	return cmd
}

func newReportFailureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failure <index>",
		Short: "Record a generic failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				account, err := a.engine.ReportFailure(cmd.Context(), index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s health %d (%d consecutive failures)\n",
					account.Name, account.HealthScore, account.ConsecutiveFailures)
				return nil
			})
		},
	}
}

func newReportBillingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "billing <index>",
		Short: "Record a billing-limit signal (confirmed after two in a row)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				res, err := a.engine.ReportBillingLimitHit(cmd.Context(), index)
				if err != nil {
					return err
				}
				printBilling(cmd, res)
				return nil
			})
		},
	}
}

func newReportHTTPCmd(opts *rootOptions) *cobra.Command {
	var (
		status     int
		body       string
		retryAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "http <index>",
		Short: "Classify a non-2xx response and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				report, err := a.engine.ReportHTTPFailure(cmd.Context(), index, status, body, retryAfter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s\n", report.Kind, report.Account.Name)
				if report.Billing != nil {
					printBilling(cmd, *report.Billing)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&status, "status", 0, "HTTP status code")
	cmd.Flags().StringVar(&body, "body", "", "response body")
	cmd.Flags().DurationVar(&retryAfter, "retry-after", 0, "Retry-After for 429 responses")
	cmd.MarkFlagRequired("status")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run passive health recovery now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				res, err := a.engine.RefreshHealthScores(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Refreshed %d account(s)\n", res.RefreshedCount)
				for _, d := range res.Details {
					fmt.Fprintf(out, "  %s: %d -> %d\n", d.Name, d.OldScore, d.NewScore)
				}
				return nil
			})
		},
	}
}

func printBilling(cmd *cobra.Command, res core.BillingLimitResult) {
	if res.IsConfirmed {
		fmt.Fprintf(cmd.OutOrStdout(), "Billing limit confirmed; cooling down until %s\n",
			time.UnixMilli(res.ResetTime).Format(time.RFC3339))
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Billing signal recorded; %d more to confirm\n", res.HitsNeeded)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
