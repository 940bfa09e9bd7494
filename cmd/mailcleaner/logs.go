package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mailcleaner/internal/models"
)

var (
	logsEmail  string
	logsAction string
	logsValid  string
	logsLimit  int
	pruneDays  int
	clearYes   bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Validation log commands",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List validation log entries, newest first",
	RunE:  runLogsList,
}

var logsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show validation log statistics",
	RunE:  runLogsStats,
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries older than --days",
	RunE:  runLogsPrune,
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every validation log entry",
	RunE:  runLogsClear,
}

func init() {
	logsListCmd.Flags().StringVar(&logsEmail, "email", "", "email substring")
	logsListCmd.Flags().StringVar(&logsAction, "action", "", "action taken (auto_unsubscribed, resubscribed, ...)")
	logsListCmd.Flags().StringVar(&logsValid, "valid", "", "true or false")
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum number of entries to show")

	logsPruneCmd.Flags().IntVar(&pruneDays, "days", 30, "retention in days")
	logsClearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm the full clear")

	logsCmd.AddCommand(logsListCmd, logsStatsCmd, logsPruneCmd, logsClearCmd)
	rootCmd.AddCommand(logsCmd)
}

func runLogsList(cmd *cobra.Command, args []string) error {
	f := models.AuditFilter{
		EmailContains: logsEmail,
		Action:        models.ActionTaken(logsAction),
		Limit:         logsLimit,
	}
	if logsValid != "" {
		v, err := strconv.ParseBool(logsValid)
		if err != nil {
			return fmt.Errorf("--valid must be true or false")
		}
		f.IsValid = &v
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.Store.ListAudit(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to list logs: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No log entries")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tVALID\tSCORE\tACTION\tREASON\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t-----\t------\t------\t-------")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.Email,
			e.IsValid,
			e.Score,
			e.Action,
			e.Reason,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runLogsStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Store.AuditStats(cmd.Context(), time.Now().UTC())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), st)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:         %d\n", st.Total)
	fmt.Fprintf(out, "Valid:         %d\n", st.Valid)
	fmt.Fprintf(out, "Invalid:       %d\n", st.Invalid)
	fmt.Fprintf(out, "Last 7 days:   %d\n", st.LastSevenDay)
	fmt.Fprintf(out, "Average score: %.1f\n", st.AverageScore)
	return nil
}

func runLogsPrune(cmd *cobra.Command, args []string) error {
	if pruneDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Store.PruneAudit(cmd.Context(), time.Now().UTC().AddDate(0, 0, -pruneDays))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days\n", n, pruneDays)
	return nil
}

func runLogsClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear the validation log without --yes")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Store.ClearAudit(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", n)
	return nil
}
