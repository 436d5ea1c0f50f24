package cli

import (
	"github.com/spf13/cobra"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate every row of the source table",
	Long: `Runs a full migration: tests connections, resolves the column mapping,
prepares every source row (including its attachment document) and inserts
the prepared rows into the destination table in batches.

Rows that fail are written to the failure ledger (ledger.key).

Exit codes:
  0 - All rows migrated
  5 - Some rows failed
  1 - All rows failed, or the run could not start`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMigrate),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(app *appctx.App, cmd *cobra.Command, args []string) error {
	o, err := app.Orchestrator()
	if err != nil {
		return err
	}
	run, err := o.Migrate(cmd.Context())
	return finishRun(app, cmd, run, err)
}
