// Package bulk splits work into fixed-size chunks and submits destination
// rows in batches, correlating the returned row ids back to request order.
package bulk

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/pace"
	"github.com/jorgenin/expense-migration/internal/tables"
)

// DefaultBatchSize is the number of rows per insert request.
const DefaultBatchSize = 20

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ChunkFunc processes one chunk. index is zero-based.
type ChunkFunc[T any] func(ctx context.Context, index int, chunk []T) error

// Operation runs chunks one after another, waiting on a pacer between them.
type Operation struct {
	BatchSize int
	Pacer     *pace.Pacer
}

// Execute calls fn for every chunk of items in order. It stops early only if
// ctx is cancelled or fn returns an error; per-item failures belong inside fn.
func Execute[T any](ctx context.Context, op Operation, items []T, fn ChunkFunc[T]) error {
	for i, chunk := range Chunk(items, op.BatchSize) {
		if err := op.Pacer.Wait(ctx); err != nil {
			return err
		}
		if err := fn(ctx, i, chunk); err != nil {
			return err
		}
	}
	return nil
}

// RowInserter is the insertion endpoint of the table API.
type RowInserter interface {
	InsertRows(ctx context.Context, ref tables.TableRef, rows [][]tables.Cell) ([]string, error)
}

// Outcome is the insert result for one payload, in request position.
type Outcome struct {
	DestRowID string
	Err       error
}

// OK reports whether the payload was inserted.
func (o Outcome) OK() bool { return o.Err == nil }

// Inserter submits destination payloads in one request per call.
type Inserter struct {
	api    RowInserter
	table  tables.TableRef
	logger *zap.Logger
}

// NewInserter creates an Inserter writing to table.
func NewInserter(api RowInserter, table tables.TableRef, logger *zap.Logger) *Inserter {
	return &Inserter{api: api, table: table, logger: logging.OrNop(logger).Named("bulk")}
}

// Insert sends payloads as one request. The returned slice always has one
// Outcome per payload. Correlation is positional: the service is assumed
// to list new ids in request order. A failed call, an empty id list, a
// count mismatch or a repeated id fails every payload with the same error.
func (in *Inserter) Insert(ctx context.Context, payloads []map[string]any) []Outcome {
	outcomes := make([]Outcome, len(payloads))
	if len(payloads) == 0 {
		return outcomes
	}

	rows := make([][]tables.Cell, len(payloads))
	for i, payload := range payloads {
		rows[i] = Cells(payload)
	}

	ids, err := in.api.InsertRows(ctx, in.table, rows)
	if err == nil {
		err = checkIDs(ids, len(payloads))
	}
	if err != nil {
		err = errors.BatchInsert(err)
		in.logger.Warn("batch insert failed",
			zap.Int(logging.FieldBatchSize, len(payloads)),
			zap.Error(err))
		for i := range outcomes {
			outcomes[i] = Outcome{Err: err}
		}
		return outcomes
	}

	for i, id := range ids {
		outcomes[i] = Outcome{DestRowID: id}
	}
	in.logger.Debug("batch inserted", zap.Int(logging.FieldBatchSize, len(payloads)))
	return outcomes
}

// checkIDs guards the positional correlation: it cannot prove the order is
// right, but it rejects responses that cannot possibly be.
func checkIDs(ids []string, want int) error {
	if len(ids) == 0 {
		return errors.New("insert response carried no row ids")
	}
	if len(ids) != want {
		return errors.Newf("insert response carried %d row ids for %d rows", len(ids), want)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return errors.New("insert response carried an empty row id")
		}
		if seen[id] {
			return errors.Newf("insert response repeated row id %s", id)
		}
		seen[id] = true
	}
	return nil
}

// Cells converts a payload into cells ordered by column id.
func Cells(payload map[string]any) []tables.Cell {
	columns := make([]string, 0, len(payload))
	for column := range payload {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	cells := make([]tables.Cell, 0, len(columns))
	for _, column := range columns {
		cells = append(cells, tables.Cell{Column: column, Value: payload[column]})
	}
	return cells
}
