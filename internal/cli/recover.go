package cli

import (
	"github.com/spf13/cobra"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
	"github.com/jorgenin/expense-migration/internal/ledger"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Retry the rows recorded in a failure ledger",
	Long: `Reads a failure ledger and migrates only the rows it lists. Rows that
fail again are written to the "` + ledger.KeyStillFailedRows + `" ledger, which can be
passed back to recover.

Examples:
  expense-migrate recover                             # Retry ledger.key from the config
  expense-migrate recover --ledger ` + ledger.KeyStillFailedRows + `   # Retry the rows that failed recovery`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runRecover),
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().String("ledger", "", "Ledger key to replay (default ledger.key)")
}

func runRecover(app *appctx.App, cmd *cobra.Command, args []string) error {
	key, _ := cmd.Flags().GetString("ledger")
	o, err := app.Orchestrator()
	if err != nil {
		return err
	}
	run, err := o.Recover(cmd.Context(), key)
	return finishRun(app, cmd, run, err)
}
