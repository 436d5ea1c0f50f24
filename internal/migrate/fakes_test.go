package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorgenin/expense-migration/internal/attach"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/store"
	"github.com/jorgenin/expense-migration/internal/tables"
)

var (
	srcRef  = tables.TableRef{DocID: "doc-src", TableID: "grid-src"}
	destRef = tables.TableRef{DocID: "doc-dst", TableID: "grid-dst"}
)

// fakeAPI serves a source and a destination table from memory.
type fakeAPI struct {
	srcCols  []domain.Column
	destCols []domain.Column
	rows     []domain.Row

	getTableErr error
	// insertErr, when set, decides the error of the n-th insert call (1-based).
	insertErr func(call int) error

	calls        int
	listRequests []tables.ListRowsOptions
	inserts      [][][]tables.Cell
	nextID       int
}

func (f *fakeAPI) GetTable(_ context.Context, ref tables.TableRef) (*domain.Table, error) {
	f.calls++
	if f.getTableErr != nil {
		return nil, f.getTableErr
	}
	return &domain.Table{ID: ref.TableID, Name: ref.TableID, RowCount: len(f.rows)}, nil
}

func (f *fakeAPI) ListColumns(_ context.Context, ref tables.TableRef) ([]domain.Column, error) {
	f.calls++
	if ref == srcRef {
		return f.srcCols, nil
	}
	return f.destCols, nil
}

func (f *fakeAPI) ListRows(_ context.Context, _ tables.TableRef, opts tables.ListRowsOptions) (*tables.RowsPage, error) {
	f.calls++
	f.listRequests = append(f.listRequests, opts)

	if len(opts.RowIDs) > 0 {
		want := make(map[string]bool, len(opts.RowIDs))
		for _, id := range opts.RowIDs {
			want[id] = true
		}
		var out []domain.Row
		for _, r := range f.rows {
			if want[r.ID] {
				out = append(out, r)
			}
		}
		return &tables.RowsPage{Rows: out}, nil
	}

	start := 0
	if opts.PageToken != "" {
		_, _ = fmt.Sscanf(opts.PageToken, "%d", &start)
	}
	end := start + opts.Limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	page := &tables.RowsPage{Rows: f.rows[start:end]}
	if end < len(f.rows) {
		page.NextPageToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (f *fakeAPI) InsertRows(_ context.Context, _ tables.TableRef, rows [][]tables.Cell) ([]string, error) {
	f.calls++
	f.inserts = append(f.inserts, rows)
	if f.insertErr != nil {
		if err := f.insertErr(len(f.inserts)); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(rows))
	for i := range rows {
		f.nextID++
		ids[i] = fmt.Sprintf("n-%d", f.nextID)
	}
	return ids, nil
}

// insertedSizes returns the row count of every insert call.
func (f *fakeAPI) insertedSizes() []int {
	sizes := make([]int, len(f.inserts))
	for i, rows := range f.inserts {
		sizes[i] = len(rows)
	}
	return sizes
}

// fakeProcessor stages a small file per row, failing for rows in fail.
type fakeProcessor struct {
	fail     map[string]bool
	requests []attach.Request
	// before runs at the start of every Process call.
	before func(req attach.Request)
}

func (f *fakeProcessor) Process(_ context.Context, req attach.Request) (*domain.ProcessedFile, error) {
	if f.before != nil {
		f.before(req)
	}
	f.requests = append(f.requests, req)
	if f.fail[req.RowID] {
		return nil, fmt.Errorf("download %s: 404", req.Attachments[0].URL)
	}
	staged := attach.StagedPath(req.StagingDir, req.RowID, req.BaseName)
	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(staged, []byte("%PDF-1.3 fake"), 0644); err != nil {
		return nil, err
	}
	return &domain.ProcessedFile{OriginalName: req.BaseName, LocalPath: staged}, nil
}

// fakeUploader records uploads and fails for names containing a fail key.
type fakeUploader struct {
	fail     []string
	checkErr error
	uploads  []string
	sawFile  []bool
}

func (f *fakeUploader) Upload(_ context.Context, localPath, name string) (string, error) {
	_, err := os.Stat(localPath)
	f.sawFile = append(f.sawFile, err == nil)
	for _, k := range f.fail {
		if strings.Contains(name, k) {
			return "", fmt.Errorf("put %s: connection reset", name)
		}
	}
	f.uploads = append(f.uploads, name)
	return "https://receipts.nyc3.digitaloceanspaces.com/expenses/" + name, nil
}

func (f *fakeUploader) Check(context.Context) error { return f.checkErr }

type fixture struct {
	api      *fakeAPI
	proc     *fakeProcessor
	uploader *fakeUploader
	store    *store.FileStore
	staging  string
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	staging := filepath.Join(t.TempDir(), "staging")

	return &fixture{
		api: &fakeAPI{
			srcCols: []domain.Column{
				{ID: "c-desc", Name: "Description", Type: "text"},
				{ID: "c-amt", Name: "Amount", Type: "currency"},
				{ID: "c-who", Name: "Submitted By", Type: "person"},
				{ID: "c-rcpt", Name: "Receipt", Type: "attachments"},
				{ID: "c-total", Name: "Total", Type: "currency", Calculated: true},
			},
			destCols: []domain.Column{
				{ID: "d-desc", Name: "Description", Type: "text"},
				{ID: "d-amt", Name: "Amount", Type: "currency"},
				{ID: "d-who", Name: "Submitter Email", Type: "email"},
				{ID: "d-rcpt", Name: "Receipt URL", Type: "link"},
			},
		},
		proc:     &fakeProcessor{},
		uploader: &fakeUploader{},
		store:    s,
		staging:  staging,
		cfg: Config{
			Source: srcRef,
			Dest:   destRef,
			Mapping: MappingConfig{
				Columns: map[string]string{
					"Description":  "Description",
					"Amount":       "Amount",
					"Submitted By": "Submitter Email",
					"Receipt":      "Receipt URL",
				},
				AttachmentColumn: "Receipt",
			},
			BatchSize:  20,
			StagingDir: staging,
		},
	}
}

func (fx *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(fx.cfg, Deps{
		API:         fx.api,
		Attachments: fx.proc,
		Uploader:    fx.uploader,
		Store:       fx.store,
	})
	require.NoError(t, err)
	return o
}

func expenseRow(id string, withReceipt bool) domain.Row {
	values := map[string]domain.Value{
		"c-desc": domain.Scalar("Lunch " + id),
		"c-amt":  domain.Money(42.5, "USD"),
		"c-who":  domain.Person("Jo", "jo@x.com"),
	}
	if withReceipt {
		values["c-rcpt"] = domain.Attachments(domain.Attachment{URL: "https://x/" + id + ".png", Name: id + ".png"})
	}
	return domain.Row{ID: id, Values: values}
}

func expenseRows(n int, withReceipt bool) []domain.Row {
	out := make([]domain.Row, n)
	for i := range out {
		out[i] = expenseRow(fmt.Sprintf("i-%02d", i), withReceipt)
	}
	return out
}

func cellMap(cells []tables.Cell) map[string]any {
	m := make(map[string]any, len(cells))
	for _, c := range cells {
		m[c.Column] = c.Value
	}
	return m
}
