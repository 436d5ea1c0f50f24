package cli

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/migrate"
	"github.com/jorgenin/expense-migration/internal/render"
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Show the resolved column mapping",
	Long: `Fetches both table schemas and prints how each source column maps to a
destination column, which transform applies, and which columns are dropped.

With the table format a unified diff of source and destination column names
follows, to spot naming mismatches.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{NeedsStore: false}, runColumns),
}

func init() {
	rootCmd.AddCommand(columnsCmd)
	columnsCmd.Flags().Int("unified", 3, "Lines of unified context")
	columnsCmd.Flags().Bool("no-diff", false, "Skip the column name diff")
}

type mappingRow struct {
	Source    string `json:"source" yaml:"source"`
	Dest      string `json:"dest,omitempty" yaml:"dest,omitempty"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
	Dropped   string `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

type mappingView []mappingRow

func (v mappingView) Headers() []string { return []string{"SOURCE", "DEST", "TRANSFORM", "DROPPED"} }

func (v mappingView) Rows() [][]string {
	rows := make([][]string, len(v))
	for i, r := range v {
		rows[i] = []string{r.Source, r.Dest, r.Transform, r.Dropped}
	}
	return rows
}

func (v mappingView) Value() any {
	items := make([]any, len(v))
	for i, r := range v {
		items[i] = r
	}
	return items
}

func newMappingView(m *migrate.Mapping) mappingView {
	var view mappingView
	for _, cm := range m.Plan.Mappings {
		view = append(view, mappingRow{Source: cm.Source.Name, Dest: cm.Dest.Name, Transform: cm.Directive.String()})
	}
	for _, d := range m.Plan.Dropped {
		view = append(view, mappingRow{Source: d.Column.Name, Dropped: d.Reason})
	}
	return view
}

func runColumns(app *appctx.App, cmd *cobra.Command, args []string) error {
	o, err := app.Orchestrator()
	if err != nil {
		return err
	}
	m, err := o.ResolveMapping(cmd.Context())
	if err != nil {
		return err
	}

	r, format, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	if err := r.Render(newMappingView(m)); err != nil {
		return err
	}

	noDiff, _ := cmd.Flags().GetBool("no-diff")
	if format != render.FormatTable || noDiff {
		return nil
	}
	lines, _ := cmd.Flags().GetInt("unified")
	text, err := columnDiff(m.SourceColumns, m.DestColumns, lines)
	if err != nil {
		return err
	}
	if text != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s", text)
	}
	return nil
}

// columnDiff returns a unified diff of the sorted, writable column names of
// both tables.
func columnDiff(source, dest []domain.Column, lines int) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        columnNames(source),
		B:        columnNames(dest),
		FromFile: "source",
		ToFile:   "destination",
		Context:  lines,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func columnNames(cols []domain.Column) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if !c.Calculated {
			names = append(names, c.Name+"\n")
		}
	}
	sort.Strings(names)
	return names
}
