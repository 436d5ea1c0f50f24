package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/migrate"
	"github.com/jorgenin/expense-migration/internal/render"
	"github.com/jorgenin/expense-migration/internal/report"
)

func newRenderer(cmd *cobra.Command) (*render.Renderer, render.Format, error) {
	var value string
	if f := cmd.Flag("output"); f != nil {
		value = f.Value.String()
	}
	format, err := render.ParseFormat(value)
	if err != nil {
		return nil, "", err
	}
	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format}), format, nil
}

// finishRun reports a migration or recovery run and maps its summary to
// an exit status: 0 when every row succeeded, 5 on partial success, 1
// when every row failed.
func finishRun(app *appctx.App, cmd *cobra.Command, run *migrate.Run, runErr error) error {
	if run != nil && len(run.Results) > 0 && app.Config.Output.ResultsXLSX != "" {
		path := app.Config.Output.ResultsXLSX
		if err := report.WriteXLSX(path, run.Summary, run.Results); err != nil {
			app.Logger.Warn("results workbook not written", zap.String(logging.FieldFile, path), zap.Error(err))
		} else {
			app.Logger.Info("results workbook written", zap.String(logging.FieldFile, path))
		}
	}
	if runErr != nil {
		return runErr
	}

	r, format, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == render.FormatTable {
		report.PrintSummary(out, run.Summary, run.Results)
		if run.LedgerKey != "" {
			fmt.Fprintf(out, "\nFailed rows recorded under %q. Retry with:\n  expense-migrate recover --ledger %s\n", run.LedgerKey, run.LedgerKey)
		}
	} else if err := r.Render(report.Table(run.Results)); err != nil {
		return err
	}

	if code := run.Summary.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
