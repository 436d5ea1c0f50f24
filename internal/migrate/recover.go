package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/ledger"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/rows"
)

// errRowNotFound is recorded for ledger ids the source no longer returns.
var errRowNotFound = errors.New("row not found in source table")

// Recover replays the rows named by the ledger under ledgerKey. Only those
// ids are fetched. An empty ledger finishes immediately without contacting
// any service. Rows that fail again go to the still-failed ledger.
func (o *Orchestrator) Recover(ctx context.Context, ledgerKey string) (run *Run, err error) {
	if err := o.requireStore(); err != nil {
		return nil, err
	}
	if ledgerKey == "" {
		ledgerKey = o.cfg.LedgerKey
	}
	run = o.start()
	defer func() { o.finish(ctx, run, err) }()

	original, err := ledger.Read(ctx, o.deps.Store, ledgerKey)
	if err != nil {
		return run, err
	}
	ids := rows.Dedupe(original.RowIDs())
	if len(ids) == 0 {
		o.logger.Info("ledger is empty, nothing to recover", zap.String(logging.FieldKey, ledgerKey))
		return run, nil
	}
	o.logger.Info("recovering rows", zap.String(logging.FieldKey, ledgerKey), zap.Int(logging.FieldCount, len(ids)))

	m, err := o.setup(ctx, run)
	if err != nil {
		return run, err
	}

	fetched := o.source().Targeted(ctx, ids)
	found := make(map[string]bool, len(fetched))
	for _, r := range fetched {
		found[r.ID] = true
	}

	results, err := o.process(ctx, run, m, fetched)
	if err != nil {
		return run, err
	}
	for _, id := range ids {
		if !found[id] {
			r := domain.Failed(id, errRowNotFound, nil)
			results = append(results, r)
			o.events.RowFinish(ctx, r)
		}
	}
	run.Results = results

	saveCtx := context.WithoutCancel(ctx)
	o.persist(saveCtx, run, ledger.KeyRecoveryResults)
	still := ledger.StillFailedFrom(original, results, o.deps.Now())
	if still.TotalStillFailed > 0 {
		if err := ledger.Write(saveCtx, o.deps.Store, ledger.KeyStillFailedRows, still); err != nil {
			return run, err
		}
		run.LedgerKey = ledger.KeyStillFailedRows
		o.logger.Warn("rows still failing",
			zap.String(logging.FieldKey, ledger.KeyStillFailedRows),
			zap.Int(logging.FieldCount, still.TotalStillFailed),
			zap.Int("recovered", still.RecoveredCount))
	}
	return run, interrupted(ctx)
}
