package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barid/backend/internal/jobs"
	"barid/backend/internal/notify"
)

func newSweepCmd(e *env) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete messages older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var res jobs.SweepResult
			if window > 0 {
				res, err = a.Sweeper.Sweep(ctx, time.Now().Add(-window).Unix())
			} else {
				res, err = a.Sweeper.Run(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages and %d attachments received before %s\n",
				res.Messages, res.Attachments, time.Unix(res.Cutoff, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Override the configured retention window (e.g. 2h)")
	return cmd
}

func newReportCmd(e *env) *cobra.Command {
	var (
		topN     int
		noNotify bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the top senders and send them to the configured notifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reporter := a.Reporter
			if noNotify {
				reporter = jobs.NewReporter(a.Counters, notify.NewLogNotifier(log), a.Config.Counter.Prefix, a.Config.Report, a.Metrics, log)
			}
			if topN <= 0 {
				topN = a.Config.Report.TopN
			}

			top := reporter.Report(ctx, topN)
			if len(top) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sender data")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobs.FormatTopSenders(len(top), top))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topN, "top", "t", 0, "Number of senders to include (default from config)")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Only print the report")
	return cmd
}
