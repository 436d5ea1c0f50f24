package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test access to both tables and object storage",
	Long: `Checks that the source and destination tables can be read and, when
storage is configured, that the bucket accepts writes. No rows are read or
written.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{NeedsStore: false}, runCheck),
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(app *appctx.App, cmd *cobra.Command, args []string) error {
	o, err := app.Orchestrator()
	if err != nil {
		return err
	}
	if err := o.TestConnections(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ source table %s\n", app.Config.Source)
	fmt.Fprintf(out, "✓ destination table %s\n", app.Config.Destination)
	if app.Uploader != nil {
		fmt.Fprintf(out, "✓ bucket %s\n", app.Config.Storage.Bucket)
	}
	return nil
}
