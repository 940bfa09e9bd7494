package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailcleaner/internal/models"
)

var scanType string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep the confirmed list and unsubscribe failing addresses",
	Long: `Run a bulk scan in the foreground. If another scan holds the lock the
command reports skipped_locked and exits successfully.`,
	RunE: runScan,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Clear stale batch locks and recover stuck queue claims",
	RunE:  runHealth,
}

func init() {
	scanCmd.Flags().StringVar(&scanType, "type", string(models.ScanManual), "scan type (manual, scheduled)")
	rootCmd.AddCommand(scanCmd, healthCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	typ := models.ScanType(scanType)
	if typ != models.ScanManual && typ != models.ScanScheduled {
		return fmt.Errorf("unknown scan type %q", scanType)
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Settings.Snapshot()
	if err != nil {
		return err
	}
	res, err := a.Scanner.Run(cmd.Context(), typ, st)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Outcome: %s\n", res.Outcome)
	fmt.Fprintf(out, "Message: %s\n", res.Message)
	if sum := res.Summary; sum != nil {
		fmt.Fprintf(out, "\nProcessed:    %d\n", sum.Processed)
		fmt.Fprintf(out, "Invalid:      %d\n", sum.Invalid)
		fmt.Fprintf(out, "Unsubscribed: %d\n", sum.Unsubscribed)
		fmt.Fprintf(out, "Errors:       %d\n", sum.Errors)
		fmt.Fprintf(out, "Logs pruned:  %d\n", sum.Pruned)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.Scanner.HealthCheck(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), h)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cleared locks:    %v\n", h.ClearedLocks)
	fmt.Fprintf(out, "Recovered claims: %d\n", h.RecoveredClaims)
	return nil
}
