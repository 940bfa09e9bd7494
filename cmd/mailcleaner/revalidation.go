package main

import (
	"fmt"
	"os/user"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mailcleaner/internal/models"
)

var (
	populateCriteria = models.DefaultPopulateCriteria()
	processBatch     int
	reviewApprove    bool
	reviewReject     bool
	reviewNote       string
	rollbackReason   string
	queueListStatus  string
	queueListLimit   int
)

var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Queue earlier automatic rejections for revalidation",
	RunE:  runPopulate,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Revalidate one batch from the queue",
	RunE:  runProcess,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Revalidation queue commands",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runQueueStats,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE:  runQueueList,
}

var reviewCmd = &cobra.Command{
	Use:   "review <queue_item_id>",
	Short: "Approve or reject an item awaiting manual review",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <result_id>",
	Short: "Undo a resubscribe decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

func init() {
	f := populateCmd.Flags()
	f.IntVar(&populateCriteria.MaxAgeDays, "max-age", populateCriteria.MaxAgeDays, "only rejections from the last N days")
	f.IntVar(&populateCriteria.MinOriginalScore, "min-score", populateCriteria.MinOriginalScore, "lowest original score to queue")
	f.IntVar(&populateCriteria.MaxOriginalScore, "max-score", populateCriteria.MaxOriginalScore, "highest original score to queue")
	f.IntVar(&populateCriteria.Limit, "limit", populateCriteria.Limit, "maximum items to queue")
	f.BoolVar(&populateCriteria.ForceRepopulate, "force", false, "clear the queue before populating")

	processCmd.Flags().IntVar(&processBatch, "batch", 0, "items to process (default: batch_size setting)")

	reviewCmd.Flags().BoolVar(&reviewApprove, "approve", false, "resubscribe the address")
	reviewCmd.Flags().BoolVar(&reviewReject, "reject", false, "keep the address unsubscribed")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "note stored with the decision")
	reviewCmd.MarkFlagsMutuallyExclusive("approve", "reject")
	reviewCmd.MarkFlagsOneRequired("approve", "reject")

	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "why the resubscribe is undone")
	rollbackCmd.MarkFlagRequired("reason")

	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "filter by status (pending, processing, completed, failed, manual_review)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "maximum number of items to show")

	queueCmd.AddCommand(queueStatsCmd, queueListCmd)
	rootCmd.AddCommand(populateCmd, processCmd, queueCmd, reviewCmd, rollbackCmd)
}

// operatorName is recorded as processed_by for manual decisions.
func operatorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

func runPopulate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Settings.Snapshot()
	if err != nil {
		return err
	}
	if !st.RevalidationEnabled {
		fmt.Fprintln(cmd.OutOrStdout(), "Revalidation system is disabled")
		return nil
	}
	res, err := a.Queue.Populate(cmd.Context(), populateCriteria, st)
	if err != nil {
		return fmt.Errorf("populate failed: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Settings.Snapshot()
	if err != nil {
		return err
	}
	n := processBatch
	if n <= 0 {
		n = st.BatchSize
	}
	res, err := a.Processor.ProcessQueue(cmd.Context(), n, st)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Outcome: %s\n", res.Outcome)
	fmt.Fprintf(out, "Message: %s\n", res.Message)
	if len(res.Details) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tEMAIL\tACTION\tOLD\tNEW")
	for _, d := range res.Details {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", d.QueueItemID, d.Email, d.Action, d.OldScore, d.NewScore)
	}
	return w.Flush()
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Queue.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get queue stats: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), st)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:         %d\n", st.Total)
	fmt.Fprintf(out, "Pending:       %d\n", st.Pending)
	fmt.Fprintf(out, "Processing:    %d\n", st.Processing)
	fmt.Fprintf(out, "Completed:     %d\n", st.Completed)
	fmt.Fprintf(out, "Failed:        %d\n", st.Failed)
	fmt.Fprintf(out, "Manual review: %d\n", st.ManualReview)
	fmt.Fprintf(out, "Avg priority:  %.1f\n", st.AvgPriority)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.Queue.List(cmd.Context(), models.QueueStatus(queueListStatus), queueListLimit)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tSTATUS\tPRIORITY\tSCORE\tATTEMPTS\tCREATED")
	fmt.Fprintln(w, "--\t-----\t------\t--------\t-----\t--------\t-------")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			it.ID,
			it.Email,
			it.Status,
			it.Priority,
			it.OriginalScore,
			it.Attempts,
			it.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runReview(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid queue item id %q", args[0])
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Processor.ResolveReview(cmd.Context(), id, reviewApprove, reviewNote, operatorName())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Item %d: %s (%s)\n", id, res.Action, res.Reason)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid result id %q", args[0])
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Processor.Rollback(cmd.Context(), id, rollbackReason, operatorName())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Result %d rolled back: %s is unsubscribed again\n", id, res.Email)
	return nil
}
