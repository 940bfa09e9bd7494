package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailcleaner/internal/app"
	"mailcleaner/internal/config"
)

var (
	offline  bool
	jsonOut  bool
	logLevel string
	version  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailcleaner",
	Short: "mailcleaner - mailing list hygiene",
	Long: `mailcleaner validates subscriber addresses, sweeps the list for ones that
no longer deliver, and revalidates earlier rejections.

Process configuration (backend, database, proxies, notifications) is read
from the same environment variables the API and worker use.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailcleaner version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "skip DNS and SMTP lookups")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	rootCmd.AddCommand(versionCmd)
}

// openApp builds the App from the environment. Logs go to stderr so command
// output stays clean.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if offline {
		cfg.Offline = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	a, err := app.New(cmd.Context(), cfg, cfg.Logger(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
