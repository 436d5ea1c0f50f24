package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "expense-migrate",
	Short: "Copy expense rows between hosted tables",
	Long: `expense-migrate copies rows from a source table to a destination table,
turning each row's receipts into one PDF in object storage. Rows that fail
are recorded in a ledger and can be retried with 'expense-migrate recover'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a non-zero exit status for a run that finished but
// did not fully succeed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default migration.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides MIGRATE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json, ndjson, yaml, tsv")
}
