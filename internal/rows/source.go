// Package rows retrieves table rows, either by sweeping every page of a
// table or by fetching an explicit set of row ids in chunks.
package rows

import (
	"context"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/bulk"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/pace"
	"github.com/jorgenin/expense-migration/internal/tables"
)

const (
	DefaultPageSize    = 100
	DefaultIDChunkSize = 50
)

// Lister fetches a page of rows.
type Lister interface {
	ListRows(ctx context.Context, ref tables.TableRef, opts tables.ListRowsOptions) (*tables.RowsPage, error)
}

// Options configures a Source.
type Options struct {
	PageSize    int
	IDChunkSize int
	// Pacer spaces out page and chunk requests. Nil disables pacing.
	Pacer *pace.Pacer
}

// Source retrieves rows from one table.
type Source struct {
	lister Lister
	table  tables.TableRef
	opts   Options
	logger *zap.Logger
}

// NewSource creates a Source reading from table.
func NewSource(lister Lister, table tables.TableRef, opts Options, logger *zap.Logger) *Source {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.IDChunkSize <= 0 {
		opts.IDChunkSize = DefaultIDChunkSize
	}
	return &Source{
		lister: lister,
		table:  table,
		opts:   opts,
		logger: logging.OrNop(logger).Named("rows"),
	}
}

// Sweep returns every row of the table, following page tokens until the
// service stops returning one.
func (s *Source) Sweep(ctx context.Context) ([]domain.Row, error) {
	var all []domain.Row
	token := ""
	for page := 1; ; page++ {
		if err := s.opts.Pacer.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := s.lister.ListRows(ctx, s.table, tables.ListRowsOptions{
			PageToken: token,
			Limit:     s.opts.PageSize,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "sweep page %d", page)
		}
		all = append(all, result.Rows...)

		s.logger.Debug("page fetched",
			zap.Int("page", page),
			zap.Int(logging.FieldCount, len(result.Rows)),
			zap.Int("total", len(all)))

		if result.NextPageToken == "" {
			break
		}
		token = result.NextPageToken
	}

	s.logger.Info("sweep complete", zap.String(logging.FieldTable, s.table.String()), zap.Int(logging.FieldCount, len(all)))
	return all, nil
}

// Targeted fetches only the rows whose ids are listed. Ids are requested in
// chunks; a failing chunk is logged and skipped. The result may therefore
// hold fewer rows than requested.
func (s *Source) Targeted(ctx context.Context, ids []string) []domain.Row {
	ids = Dedupe(ids)
	var found []domain.Row

	for i, chunk := range bulk.Chunk(ids, s.opts.IDChunkSize) {
		if err := s.opts.Pacer.Wait(ctx); err != nil {
			s.logger.Warn("targeted fetch interrupted", zap.Error(err))
			break
		}

		wanted := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			wanted[id] = true
		}

		rows, err := s.fetchChunk(ctx, chunk)
		if err != nil {
			s.logger.Warn("id chunk failed, skipping",
				zap.Int(logging.FieldChunk, i+1),
				zap.Int(logging.FieldBatchSize, len(chunk)),
				zap.Error(err))
			continue
		}

		for _, row := range rows {
			// the service may return rows outside the filter, or a row twice
			if wanted[row.ID] {
				found = append(found, row)
				delete(wanted, row.ID)
			}
		}
	}

	s.logger.Info("targeted fetch complete",
		zap.Int("requested", len(ids)),
		zap.Int("recovered", len(found)))
	return found
}

// fetchChunk issues one id-filtered request for a chunk.
func (s *Source) fetchChunk(ctx context.Context, ids []string) ([]domain.Row, error) {
	limit := s.opts.PageSize
	if len(ids) > limit {
		limit = len(ids)
	}
	page, err := s.lister.ListRows(ctx, s.table, tables.ListRowsOptions{
		Limit:  limit,
		RowIDs: ids,
	})
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// Dedupe removes repeated ids, keeping first occurrences in order.
func Dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
