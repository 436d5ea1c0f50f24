// Package ledger records which source rows failed so a later run can retry
// only those rows.
package ledger

import (
	"context"
	"time"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/store"
)

// Store keys.
const (
	KeyFailedRows       = "failed_rows"
	KeyMigrationResults = "migration_results"
	KeyRecoveryResults  = "recovery_results"
	KeyStillFailedRows  = "still_failed_rows"
)

// FailedRow is one failed source row and its error text.
type FailedRow struct {
	RowID string `json:"rowId"`
	Error string `json:"error"`
}

// Ledger lists the rows that failed in a run.
type Ledger struct {
	Timestamp    time.Time   `json:"timestamp"`
	FailedRowIDs []string    `json:"failedRowIds"`
	FailedRows   []FailedRow `json:"failedRows"`
}

// StillFailed is written after a recovery run for rows that failed again.
type StillFailed struct {
	Ledger
	OriginalFailureCount int `json:"originalFailureCount"`
	RecoveredCount       int `json:"recoveredCount"`
	TotalStillFailed     int `json:"totalStillFailed"`
}

// Results is the full result list of a run.
type Results struct {
	RunID     string                   `json:"runId"`
	Timestamp time.Time                `json:"timestamp"`
	Summary   domain.Summary           `json:"summary"`
	Results   []domain.MigrationResult `json:"results"`
}

// FromResults builds a ledger from the failed entries of results, in order.
// A row id appears at most once.
func FromResults(results []domain.MigrationResult, now time.Time) *Ledger {
	l := &Ledger{Timestamp: now.UTC(), FailedRowIDs: []string{}, FailedRows: []FailedRow{}}
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Success || seen[r.SourceRowID] {
			continue
		}
		seen[r.SourceRowID] = true
		l.FailedRowIDs = append(l.FailedRowIDs, r.SourceRowID)
		l.FailedRows = append(l.FailedRows, FailedRow{RowID: r.SourceRowID, Error: r.Error})
	}
	return l
}

// Empty reports whether the ledger names no rows.
func (l *Ledger) Empty() bool {
	return l == nil || len(l.RowIDs()) == 0
}

// RowIDs returns the failed row ids. Older ledgers may only carry
// failedRows, so those are used when failedRowIds is empty.
func (l *Ledger) RowIDs() []string {
	if l == nil {
		return nil
	}
	if len(l.FailedRowIDs) > 0 {
		return l.FailedRowIDs
	}
	ids := make([]string, 0, len(l.FailedRows))
	for _, r := range l.FailedRows {
		if r.RowID != "" {
			ids = append(ids, r.RowID)
		}
	}
	return ids
}

// Write stores l under key.
func Write(ctx context.Context, s store.Store, key string, l any) error {
	if err := store.PutJSON(ctx, s, key, l); err != nil {
		return errors.Ledger(errors.Wrapf(err, "write ledger %s", key))
	}
	return nil
}

// Read loads the ledger stored under key. A missing or unreadable ledger is
// a ledger error.
func Read(ctx context.Context, s store.Store, key string) (*Ledger, error) {
	var l Ledger
	if err := store.GetJSON(ctx, s, key, &l); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = errors.WithHint(err, "run migrate first, or pass --ledger with the key of an existing ledger")
		}
		return nil, errors.Ledger(errors.Wrapf(err, "read ledger %s", key))
	}
	return &l, nil
}

// WriteResults stores the full result list of a run under key.
func WriteResults(ctx context.Context, s store.Store, key string, r *Results) error {
	if err := store.PutJSON(ctx, s, key, r); err != nil {
		return errors.Wrapf(err, "write results %s", key)
	}
	return nil
}

// StillFailedFrom builds the post-recovery ledger.
func StillFailedFrom(original *Ledger, results []domain.MigrationResult, now time.Time) *StillFailed {
	l := FromResults(results, now)
	recovered := 0
	for _, r := range results {
		if r.Success {
			recovered++
		}
	}
	return &StillFailed{
		Ledger:               *l,
		OriginalFailureCount: len(original.RowIDs()),
		RecoveredCount:       recovered,
		TotalStillFailed:     len(l.FailedRowIDs),
	}
}
