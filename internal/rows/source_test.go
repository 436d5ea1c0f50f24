package rows

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/tables"
)

// fakeLister serves a fixed table. It ignores id filters unless filter is
// set, mimicking a service that does not filter server side.
type fakeLister struct {
	rows     []domain.Row
	filter   bool
	failOn   map[string]bool
	requests []tables.ListRowsOptions
}

func (f *fakeLister) ListRows(_ context.Context, _ tables.TableRef, opts tables.ListRowsOptions) (*tables.RowsPage, error) {
	f.requests = append(f.requests, opts)

	if len(opts.RowIDs) > 0 {
		for _, id := range opts.RowIDs {
			if f.failOn[id] {
				return nil, fmt.Errorf("boom on %s", id)
			}
		}
		if !f.filter {
			return &tables.RowsPage{Rows: f.rows}, nil
		}
		want := map[string]bool{}
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

func makeRows(n int) []domain.Row {
	out := make([]domain.Row, n)
	for i := range out {
		out[i] = domain.Row{ID: fmt.Sprintf("i-%d", i)}
	}
	return out
}

func TestSweep_FollowsCursor(t *testing.T) {
	lister := &fakeLister{rows: makeRows(25)}
	src := NewSource(lister, tables.TableRef{DocID: "d", TableID: "t"}, Options{PageSize: 10}, nil)

	got, err := src.Sweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 25)
	assert.Len(t, lister.requests, 3)
	assert.Equal(t, "", lister.requests[0].PageToken)
	assert.Equal(t, "10", lister.requests[1].PageToken)
	assert.Equal(t, "i-24", got[24].ID)
}

func TestSweep_EmptyTable(t *testing.T) {
	lister := &fakeLister{}
	got, err := NewSource(lister, tables.TableRef{}, Options{}, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, lister.requests, 1)
}

func TestTargeted_RequestsOnlyRequestedIDs(t *testing.T) {
	lister := &fakeLister{rows: makeRows(10)}
	src := NewSource(lister, tables.TableRef{}, Options{IDChunkSize: 2}, nil)

	got := src.Targeted(context.Background(), []string{"i-1", "i-3", "i-7"})

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"i-1", "i-3", "i-7"}, ids)

	require.Len(t, lister.requests, 2)
	var requested []string
	for _, req := range lister.requests {
		assert.Empty(t, req.PageToken)
		requested = append(requested, req.RowIDs...)
	}
	assert.Equal(t, []string{"i-1", "i-3", "i-7"}, requested)
}

func TestTargeted_ChunkFailureSkipped(t *testing.T) {
	lister := &fakeLister{rows: makeRows(10), filter: true, failOn: map[string]bool{"i-3": true}}
	src := NewSource(lister, tables.TableRef{}, Options{IDChunkSize: 2}, nil)

	got := src.Targeted(context.Background(), []string{"i-1", "i-2", "i-3", "i-4", "i-5"})

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"i-1", "i-2", "i-5"}, ids)
	assert.Len(t, lister.requests, 3)
}

func TestTargeted_MissingRowsAreNotInvented(t *testing.T) {
	lister := &fakeLister{rows: makeRows(3), filter: true}
	got := NewSource(lister, tables.TableRef{}, Options{}, nil).Targeted(context.Background(), []string{"i-1", "gone"})
	require.Len(t, got, 1)
	assert.Equal(t, "i-1", got[0].ID)
}

func TestTargeted_Empty(t *testing.T) {
	lister := &fakeLister{rows: makeRows(3)}
	got := NewSource(lister, tables.TableRef{}, Options{}, nil).Targeted(context.Background(), nil)
	assert.Empty(t, got)
	assert.Empty(t, lister.requests)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "", "c", "b"}))
}
