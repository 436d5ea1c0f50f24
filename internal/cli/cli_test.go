package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/cli/appctx"
	"github.com/jorgenin/expense-migration/internal/config"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/migrate"
)

// tableServer mimics the table API for one source and one destination table.
type tableServer struct {
	mu       sync.Mutex
	failWord string
	inserted []map[string]any
	next     int
}

func (s *tableServer) setFailWord(word string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWord = word
}

func (s *tableServer) insertedRows() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.inserted...)
}

func (s *tableServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// docs/{doc}/tables/{table}[/columns|/rows]
	if len(parts) < 4 {
		http.NotFound(w, r)
		return
	}
	table := parts[3]
	switch {
	case len(parts) == 4:
		_, _ = w.Write([]byte(`{"id":"` + table + `","name":"` + table + `","rowCount":2}`))
	case parts[4] == "columns" && table == "src":
		_, _ = w.Write([]byte(`{"items":[
			{"id":"c-desc","name":"Description","format":{"type":"text"}},
			{"id":"c-amount","name":"Amount","format":{"type":"number"}},
			{"id":"c-total","name":"Total","calculated":true,"format":{"type":"number"}}]}`))
	case parts[4] == "columns":
		_, _ = w.Write([]byte(`{"items":[
			{"id":"d-desc","name":"Description","format":{"type":"text"}},
			{"id":"d-amount","name":"Amount","format":{"type":"number"}},
			{"id":"d-notes","name":"Notes","format":{"type":"text"}}]}`))
	case parts[4] == "rows" && r.Method == http.MethodGet:
		rows := []map[string]any{
			{"id": "r1", "name": "Taxi", "values": map[string]any{"c-desc": "Taxi", "c-amount": 12.5}},
			{"id": "r2", "name": "Hotel", "values": map[string]any{"c-desc": "Hotel", "c-amount": 180}},
		}
		if ids := r.URL.Query().Get("rowIds"); ids != "" {
			var filtered []map[string]any
			for _, row := range rows {
				if strings.Contains(","+ids+",", ","+row["id"].(string)+",") {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": rows})
	case parts[4] == "rows":
		var body struct {
			Rows []struct {
				Cells []struct {
					Column string `json:"column"`
					Value  any    `json:"value"`
				} `json:"cells"`
			} `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ids := make([]string, 0, len(body.Rows))
		for _, row := range body.Rows {
			values := map[string]any{}
			for _, c := range row.Cells {
				if s.failWord != "" && c.Value == s.failWord {
					http.Error(w, `{"message":"rejected"}`, http.StatusBadRequest)
					return
				}
				values[c.Column] = c.Value
			}
			s.inserted = append(s.inserted, values)
			s.next++
			ids = append(ids, fmt.Sprintf("dst-%d", s.next))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"requestId": "req", "addedRowIds": ids})
	default:
		http.NotFound(w, r)
	}
}

func writeConfig(t *testing.T, baseURL string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "migration.yaml")
	yaml := `
source: {doc_id: docA, table_id: src}
destination: {doc_id: docB, table_id: dst}
api:
  base_url: ` + baseURL + `
mapping:
  columns:
    Description: Description
    Amount: Amount
migration:
  batch_size: 1
  insert_delay: 0s
  page_delay: 0s
  staging_dir: ` + filepath.Join(dir, "staging") + `
ledger:
  backend: file
  path: ` + filepath.Join(dir, "ledger") + `
log_level: error
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return dir, path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	oldCwd, _ := os.Getwd()
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	t.Setenv("CODA_API_TOKEN", "tok")
	t.Setenv("MIGRATE_LOG_LEVEL", "")
	t.Setenv("MIGRATE_LEDGER_BACKEND", "")
	t.Setenv("MIGRATE_LEDGER_PATH", "")
}

func TestMigrateThenRecover(t *testing.T) {
	setupEnv(t)
	api := &tableServer{failWord: "Hotel"}
	srv := httptest.NewServer(api)
	defer srv.Close()
	dir, cfgPath := writeConfig(t, srv.URL)

	out, err := execute(t, "migrate", "--config", cfgPath)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 5, exitErr.Code)
	assert.Contains(t, out, "⚠ Partial success: 1 succeeded, 1 failed (out of 2)")
	assert.Contains(t, out, "recover --ledger failed_rows")
	assert.FileExists(t, filepath.Join(dir, "ledger", "failed_rows.json"))
	assert.FileExists(t, filepath.Join(dir, "ledger", "migration_results.json"))
	inserted := api.insertedRows()
	require.Len(t, inserted, 1)
	assert.Equal(t, "Taxi", inserted[0]["d-desc"])

	api.setFailWord("")
	out, err = execute(t, "recover", "--config", cfgPath, "--ledger", "failed_rows")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All 1 rows migrated")
	inserted = api.insertedRows()
	require.Len(t, inserted, 2)
	assert.Equal(t, "Hotel", inserted[1]["d-desc"])
}

func TestMigrateJSONOutput(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(&tableServer{})
	defer srv.Close()
	_, cfgPath := writeConfig(t, srv.URL)

	out, err := execute(t, "migrate", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)

	var results []domain.MigrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "r1", results[0].SourceRowID)
}

func TestCheck(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(&tableServer{})
	defer srv.Close()
	dir, cfgPath := writeConfig(t, srv.URL)

	out, err := execute(t, "check", "--config", cfgPath, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ source table docA/src")
	assert.Contains(t, out, "✓ destination table docB/dst")
	assert.NoDirExists(t, filepath.Join(dir, "ledger"), "check does not open the ledger store")
}

func TestColumns(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(&tableServer{})
	defer srv.Close()
	dir, cfgPath := writeConfig(t, srv.URL)

	out, err := execute(t, "columns", "--config", cfgPath, "-o", "table")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "ledger"), "columns does not open the ledger store")
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "Description")
	assert.Contains(t, out, "--- source")
	assert.Contains(t, out, "+Notes")
}

func TestMigrateInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("CODA_API_TOKEN", "")
	_, cfgPath := writeConfig(t, "http://127.0.0.1:1")

	_, err := execute(t, "migrate", "--config", cfgPath, "-o", "table")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestFinishRun(t *testing.T) {
	results := []domain.MigrationResult{
		domain.Succeeded("r1", "d1", nil),
		domain.Failed("r2", errors.New("boom"), nil),
	}
	tests := []struct {
		name     string
		results  []domain.MigrationResult
		wantCode int
	}{
		{"all ok", results[:1], 0},
		{"partial", results, 5},
		{"all failed", results[1:], 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xlsx := filepath.Join(t.TempDir(), "results.xlsx")
			cfg := config.Default()
			cfg.Output.ResultsXLSX = xlsx
			app := &appctx.App{Config: cfg, Logger: zap.NewNop()}

			var out bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetOut(&out)
			run := &migrate.Run{Results: tt.results, Summary: domain.Summarize(tt.results)}

			err := finishRun(app, cmd, run, nil)
			if tt.wantCode == 0 {
				require.NoError(t, err)
			} else {
				var exitErr *ExitError
				require.True(t, errors.As(err, &exitErr))
				assert.Equal(t, tt.wantCode, exitErr.Code)
			}
			assert.FileExists(t, xlsx)
		})
	}
}

func TestFinishRunPassesFatalError(t *testing.T) {
	app := &appctx.App{Config: config.Default(), Logger: zap.NewNop()}
	fatal := errors.Ledger(errors.New("ledger missing"))
	err := finishRun(app, &cobra.Command{}, &migrate.Run{}, fatal)
	assert.True(t, errors.Is(err, errors.ErrLedger))
}

func TestColumnDiff(t *testing.T) {
	src := []domain.Column{{Name: "Amount"}, {Name: "Date"}, {Name: "Total", Calculated: true}}
	dst := []domain.Column{{Name: "Amount"}, {Name: "Expense Date"}}

	text, err := columnDiff(src, dst, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "--- source")
	assert.Contains(t, text, "+++ destination")
	assert.Contains(t, text, "-Date")
	assert.Contains(t, text, "+Expense Date")
	assert.NotContains(t, text, "Total")

	same, err := columnDiff(src[:1], dst[:1], 1)
	require.NoError(t, err)
	assert.Empty(t, same)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "expense-migrate version dev")
}
