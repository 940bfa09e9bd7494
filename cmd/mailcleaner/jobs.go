package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsEventsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Scheduler job commands",
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a scheduler job once and record it in the event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

var jobsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent scheduler events",
	RunE:  runJobsEvents,
}

func init() {
	jobsEventsCmd.Flags().IntVar(&jobsEventsLimit, "limit", 20, "maximum number of events to show")
	jobsCmd.AddCommand(jobsRunCmd, jobsEventsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.Scheduler().Trigger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), ev)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%dms)\n", ev.Job, ev.Outcome, ev.DurationMs)
	if ev.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), ev.Message)
	}
	return nil
}

func runJobsEvents(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.Store.ListEvents(cmd.Context(), jobsEventsLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), events)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tJOB\tOUTCOME\tDURATION\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.Job,
			ev.Outcome,
			ev.DurationMs,
			ev.Message,
		)
	}
	return w.Flush()
}
