// Package report summarizes migration results for people: a console
// summary, a tabular view for the renderer and a spreadsheet export.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
)

// maxListedErrors caps the failures printed by PrintSummary.
const maxListedErrors = 10

// PrintSummary prints a human-readable summary of a run.
func PrintSummary(w io.Writer, s domain.Summary, results []domain.MigrationResult) {
	switch {
	case s.Total == 0:
		fmt.Fprintf(w, "\nNo rows to migrate\n")
	case s.Failed == 0:
		fmt.Fprintf(w, "\n✓ All %d rows migrated\n", s.Total)
	case s.Succeeded == 0:
		fmt.Fprintf(w, "\n✗ All %d rows failed\n", s.Total)
	default:
		fmt.Fprintf(w, "\n⚠ Partial success: %d succeeded, %d failed (out of %d)\n",
			s.Succeeded, s.Failed, s.Total)
	}

	var failed []domain.MigrationResult
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return
	}
	if len(failed) <= maxListedErrors {
		fmt.Fprintf(w, "\nErrors:\n")
	} else {
		fmt.Fprintf(w, "\nShowing first %d errors (of %d):\n", maxListedErrors, len(failed))
		failed = failed[:maxListedErrors]
	}
	for _, r := range failed {
		fmt.Fprintf(w, "  %s: %s\n", r.SourceRowID, r.Error)
	}
}

var resultHeaders = []string{"SUCCESS", "SOURCE ROW", "DEST ROW", "DOCUMENTS", "ERROR"}

// Table adapts a result list to render.Tabular.
type Table []domain.MigrationResult

// Headers implements render.Tabular.
func (t Table) Headers() []string { return resultHeaders }

// Rows implements render.Tabular.
func (t Table) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			strconv.FormatBool(r.Success),
			r.SourceRowID,
			r.DestRowID,
			documentURLs(r.Files),
			r.Error,
		})
	}
	return rows
}

// Value implements render.Tabular.
func (t Table) Value() any {
	items := make([]any, len(t))
	for i, r := range t {
		items[i] = r
	}
	return items
}

func documentURLs(files []domain.ProcessedFile) string {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		if f.UploadedURL != "" {
			urls = append(urls, f.UploadedURL)
		}
	}
	return strings.Join(urls, " ")
}

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// WriteXLSX saves the summary and the per-row results as a workbook at path.
func WriteXLSX(path string, s domain.Summary, results []domain.MigrationResult) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrap(closeErr, "close workbook")
		}
	}()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return errors.Wrap(err, "name results sheet")
	}
	header := make([]any, len(resultHeaders))
	for i, h := range resultHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "create header style")
	}
	if err := f.SetCellStyle(resultsSheet, "A1", "E1", bold); err != nil {
		return errors.Wrap(err, "style header")
	}

	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "locate row")
		}
		row := []any{r.Success, r.SourceRowID, r.DestRowID, documentURLs(r.Files), r.Error}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write result for %s", r.SourceRowID)
		}
	}
	if err := f.SetColWidth(resultsSheet, "B", "C", 18); err != nil {
		return errors.Wrap(err, "size columns")
	}
	if err := f.SetColWidth(resultsSheet, "D", "E", 60); err != nil {
		return errors.Wrap(err, "size columns")
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return errors.Wrap(err, "add summary sheet")
	}
	summary := [][]any{
		{"Run", s.RunID},
		{"Started", s.StartedAt.UTC().Format("2006-01-02T15:04:05Z")},
		{"Ended", s.EndedAt.UTC().Format("2006-01-02T15:04:05Z")},
		{"Total", s.Total},
		{"Succeeded", s.Succeeded},
		{"Failed", s.Failed},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "locate summary row")
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return errors.Wrap(err, "write summary")
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
