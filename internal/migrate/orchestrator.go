// Package migrate drives migration and recovery runs: test connections,
// resolve the column mapping, prepare every row, then insert prepared rows
// in chunks and record the outcome of each source row.
package migrate

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/attach"
	"github.com/jorgenin/expense-migration/internal/bulk"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/events"
	"github.com/jorgenin/expense-migration/internal/ledger"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/pace"
	"github.com/jorgenin/expense-migration/internal/rows"
	"github.com/jorgenin/expense-migration/internal/sanitize"
	"github.com/jorgenin/expense-migration/internal/schema"
	"github.com/jorgenin/expense-migration/internal/store"
	"github.com/jorgenin/expense-migration/internal/tables"
)

// TableAPI is the part of the table service a run uses.
type TableAPI interface {
	GetTable(ctx context.Context, ref tables.TableRef) (*domain.Table, error)
	ListColumns(ctx context.Context, ref tables.TableRef) ([]domain.Column, error)
	rows.Lister
	bulk.RowInserter
}

// AttachmentProcessor builds the staged document for a row's attachments.
type AttachmentProcessor interface {
	Process(ctx context.Context, req attach.Request) (*domain.ProcessedFile, error)
}

// Uploader publishes staged documents.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
	Check(ctx context.Context) error
}

// MappingConfig is the configured column mapping by column name.
type MappingConfig struct {
	Columns    map[string]string
	Skip       []string
	Transforms map[string]string
	// AttachmentColumn is the source column whose files become one uploaded
	// document. Its destination receives the document URL.
	AttachmentColumn string
	// AttachmentNameColumn optionally names the source column used to name
	// the document.
	AttachmentNameColumn string
}

// Config holds the settings of a run.
type Config struct {
	Source      tables.TableRef
	Dest        tables.TableRef
	Mapping     MappingConfig
	BatchSize   int
	PageSize    int
	IDChunkSize int
	InsertDelay time.Duration
	PageDelay   time.Duration
	// StagingDir is the parent of the per-run staging directory.
	StagingDir string
	// LedgerKey is where a migration run writes its failure ledger.
	LedgerKey string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	API         TableAPI
	Attachments AttachmentProcessor
	Uploader    Uploader
	Store       store.Store
	Registry    *schema.Registry
	Sinks       []events.Sink
	Logger      *zap.Logger
	Now         func() time.Time
}

// Run is the outcome of a migration or recovery.
type Run struct {
	RunID   string
	Phase   domain.Phase
	Plan    *schema.Plan
	Results []domain.MigrationResult
	Summary domain.Summary
	// LedgerKey is set when a failure ledger was written.
	LedgerKey string
}

// Orchestrator runs migrations and recoveries. It is not safe for
// concurrent use: a run is strictly sequential.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	mapper    *schema.Mapper
	sanitizer *sanitize.Sanitizer
	base      *zap.Logger
	logger    *zap.Logger

	runID  string
	phase  domain.Phase
	events *events.Emitter
}

// New validates cfg and deps and returns an Orchestrator. Deps.Store may be
// nil for an Orchestrator that only checks connections or resolves mappings.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.API == nil {
		return nil, errors.Configuration(errors.New("table API is required"))
	}
	if cfg.Mapping.AttachmentColumn != "" && (deps.Attachments == nil || deps.Uploader == nil) {
		return nil, errors.Configuration(errors.New("an attachment column needs an attachment pipeline and an uploader"))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = bulk.DefaultBatchSize
	}
	if cfg.LedgerKey == "" {
		cfg.LedgerKey = ledger.KeyFailedRows
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := logging.OrNop(deps.Logger)
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		mapper:    schema.NewMapper(deps.Registry, logger),
		sanitizer: sanitize.New(logger),
		base:      logger.Named("migrate"),
		logger:    logger.Named("migrate"),
		phase:     domain.PhaseInit,
	}, nil
}

// Phase returns the current state of the run.
func (o *Orchestrator) Phase() domain.Phase { return o.phase }

func (o *Orchestrator) start() *Run {
	o.runID = uuid.New().String()
	o.events = events.NewEmitter(o.runID, o.base, o.deps.Sinks...)
	o.phase = domain.PhaseInit
	o.logger = o.base.With(zap.String(logging.FieldRunID, o.runID))
	return &Run{RunID: o.runID, Phase: o.phase, Summary: domain.Summary{RunID: o.runID, StartedAt: o.deps.Now().UTC()}}
}

func (o *Orchestrator) setPhase(ctx context.Context, run *Run, p domain.Phase) {
	o.phase = p
	run.Phase = p
	o.events.Phase(ctx, p)
}

// finish stamps the summary. A fatal error moves the run to FAILED.
func (o *Orchestrator) finish(ctx context.Context, run *Run, err error) {
	summary := domain.Summarize(run.Results)
	summary.RunID = run.RunID
	summary.StartedAt = run.Summary.StartedAt
	summary.EndedAt = o.deps.Now().UTC()
	run.Summary = summary
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		o.logger.Error("run failed", zap.String(logging.FieldPhase, string(o.phase)), zap.Error(err))
		o.setPhase(ctx, run, domain.PhaseFailed)
		return
	}
	o.setPhase(ctx, run, domain.PhaseDone)
}

// TestConnections checks read access to both tables and write access to
// storage.
func (o *Orchestrator) TestConnections(ctx context.Context) error {
	for _, ref := range []tables.TableRef{o.cfg.Source, o.cfg.Dest} {
		t, err := o.deps.API.GetTable(ctx, ref)
		if err != nil {
			return errors.Connectivity(errors.Wrapf(err, "table %s", ref))
		}
		o.logger.Info("table reachable",
			zap.String(logging.FieldTable, ref.String()),
			zap.String("name", t.Name),
			zap.Int("rows", t.RowCount))
	}
	if o.deps.Uploader != nil {
		if err := o.deps.Uploader.Check(ctx); err != nil {
			return errors.Connectivity(errors.Wrap(err, "object storage"))
		}
	}
	return nil
}

// Mapping is a resolved plan plus the columns it was resolved from.
type Mapping struct {
	Plan          *schema.Plan
	SourceColumns []domain.Column
	DestColumns   []domain.Column

	attachment   *schema.ColumnMapping
	nameColumnID string
}

// ResolveMapping fetches both schemas and resolves the configured mapping.
func (o *Orchestrator) ResolveMapping(ctx context.Context) (*Mapping, error) {
	srcCols, err := o.deps.API.ListColumns(ctx, o.cfg.Source)
	if err != nil {
		return nil, errors.Connectivity(errors.Wrap(err, "source columns"))
	}
	destCols, err := o.deps.API.ListColumns(ctx, o.cfg.Dest)
	if err != nil {
		return nil, errors.Connectivity(errors.Wrap(err, "destination columns"))
	}

	mc := o.cfg.Mapping
	plan, err := o.mapper.Resolve(schema.Input{
		Source:     srcCols,
		Dest:       destCols,
		Names:      mc.Columns,
		Skip:       mc.Skip,
		Transforms: mc.Transforms,
	})
	if err != nil {
		return nil, err
	}

	m := &Mapping{Plan: plan, SourceColumns: srcCols, DestColumns: destCols}
	if mc.AttachmentColumn != "" {
		am, ok := plan.BySourceName(mc.AttachmentColumn)
		if !ok {
			return nil, errors.Configuration(errors.Newf("attachment column %q is not mapped to a destination column", mc.AttachmentColumn))
		}
		m.attachment = &am
	}
	if mc.AttachmentNameColumn != "" {
		for _, c := range srcCols {
			if c.Name == mc.AttachmentNameColumn {
				m.nameColumnID = c.ID
				break
			}
		}
		if m.nameColumnID == "" {
			return nil, errors.Configuration(errors.Newf("attachment name column %q not found in source table", mc.AttachmentNameColumn))
		}
	}
	return m, nil
}

// setup runs TESTING_CONNECTIONS and MAPPING.
func (o *Orchestrator) setup(ctx context.Context, run *Run) (*Mapping, error) {
	o.setPhase(ctx, run, domain.PhaseTestingConnections)
	if err := o.TestConnections(ctx); err != nil {
		return nil, err
	}
	o.setPhase(ctx, run, domain.PhaseMapping)
	m, err := o.ResolveMapping(ctx)
	if err != nil {
		return nil, err
	}
	run.Plan = m.Plan
	return m, nil
}

func (o *Orchestrator) source() *rows.Source {
	return rows.NewSource(o.deps.API, o.cfg.Source, rows.Options{
		PageSize:    o.cfg.PageSize,
		IDChunkSize: o.cfg.IDChunkSize,
		Pacer:       pace.New(o.cfg.PageDelay),
	}, o.logger)
}

// Migrate sweeps the source table and migrates every row. Failed rows are
// written to the failure ledger. The returned Run is non-nil whenever rows
// were processed, even if persisting the outcome failed.
func (o *Orchestrator) Migrate(ctx context.Context) (run *Run, err error) {
	if err := o.requireStore(); err != nil {
		return nil, err
	}
	run = o.start()
	defer func() { o.finish(ctx, run, err) }()

	m, err := o.setup(ctx, run)
	if err != nil {
		return run, err
	}

	list, err := o.source().Sweep(ctx)
	if err != nil {
		return run, errors.Connectivity(errors.Wrap(err, "read source rows"))
	}
	o.logger.Info("source rows loaded", zap.Int(logging.FieldCount, len(list)))

	run.Results, err = o.process(ctx, run, m, list)
	if err != nil {
		return run, err
	}

	// The outcome is saved even when ctx was cancelled mid-run.
	saveCtx := context.WithoutCancel(ctx)
	o.persist(saveCtx, run, ledger.KeyMigrationResults)
	if failed := ledger.FromResults(run.Results, o.deps.Now()); !failed.Empty() {
		if err := ledger.Write(saveCtx, o.deps.Store, o.cfg.LedgerKey, failed); err != nil {
			return run, err
		}
		run.LedgerKey = o.cfg.LedgerKey
		o.logger.Warn("failure ledger written",
			zap.String(logging.FieldKey, o.cfg.LedgerKey),
			zap.Int(logging.FieldCount, len(failed.FailedRowIDs)))
	}
	return run, interrupted(ctx)
}

func (o *Orchestrator) requireStore() error {
	if o.deps.Store == nil {
		return errors.Configuration(errors.New("ledger store is required"))
	}
	return nil
}

// interrupted reports a cancelled or expired ctx as the run's error.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "run interrupted")
	}
	return nil
}

// persist writes the full result list. A failure is logged only; the
// ledger is what later runs depend on.
func (o *Orchestrator) persist(ctx context.Context, run *Run, key string) {
	summary := domain.Summarize(run.Results)
	summary.RunID = run.RunID
	summary.StartedAt = run.Summary.StartedAt
	summary.EndedAt = o.deps.Now().UTC()
	err := ledger.WriteResults(ctx, o.deps.Store, key, &ledger.Results{
		RunID:     run.RunID,
		Timestamp: o.deps.Now().UTC(),
		Summary:   summary,
		Results:   run.Results,
	})
	if err != nil {
		o.logger.Warn("results not saved", zap.String(logging.FieldKey, key), zap.Error(err))
	}
}

// process runs PREPARE and INSERT over list inside a per-run staging
// directory that is removed on every path.
func (o *Orchestrator) process(ctx context.Context, run *Run, m *Mapping, list []domain.Row) ([]domain.MigrationResult, error) {
	if o.cfg.StagingDir != "" {
		if err := os.MkdirAll(o.cfg.StagingDir, 0755); err != nil {
			return nil, errors.Wrap(err, "create staging directory")
		}
	}
	staging, err := os.MkdirTemp(o.cfg.StagingDir, "staging-"+o.runID[:8]+"-")
	if err != nil {
		return nil, errors.Wrap(err, "create staging directory")
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			o.logger.Warn("staging directory not removed", zap.String(logging.FieldFile, staging), zap.Error(err))
		}
	}()

	results := make([]domain.MigrationResult, 0, len(list))

	o.setPhase(ctx, run, domain.PhasePrepare)
	prepared := make([]domain.PreparedRow, 0, len(list))
	for _, row := range list {
		o.events.RowStart(ctx, row.ID)
		pr, err := o.prepareRow(ctx, m, row, staging)
		if err != nil {
			r := domain.Failed(row.ID, errors.RowPreparation(err), nil)
			results = append(results, r)
			o.events.RowFinish(ctx, r)
			continue
		}
		prepared = append(prepared, pr)
	}

	o.setPhase(ctx, run, domain.PhaseInsert)
	return o.insert(ctx, prepared, results), nil
}

// insert submits prepared rows chunk by chunk and appends one result per
// row to results. Staged files of a chunk are released right after it.
func (o *Orchestrator) insert(ctx context.Context, prepared []domain.PreparedRow, results []domain.MigrationResult) []domain.MigrationResult {
	inserter := bulk.NewInserter(o.deps.API, o.cfg.Dest, o.logger)
	op := bulk.Operation{BatchSize: o.cfg.BatchSize, Pacer: pace.New(o.cfg.InsertDelay)}

	done := 0
	err := bulk.Execute(ctx, op, prepared, func(ctx context.Context, i int, chunk []domain.PreparedRow) error {
		o.events.ChunkStart(ctx, i+1, len(chunk))

		payloads := make([]map[string]any, len(chunk))
		for j, pr := range chunk {
			payloads[j] = pr.Payload
		}
		outcomes := inserter.Insert(ctx, payloads)

		inserted := 0
		var chunkErr error
		for j, oc := range outcomes {
			pr := chunk[j]
			var r domain.MigrationResult
			if oc.OK() {
				r = domain.Succeeded(pr.SourceRowID, oc.DestRowID, pr.Files)
				inserted++
			} else {
				r = domain.Failed(pr.SourceRowID, oc.Err, pr.Files)
				chunkErr = oc.Err
			}
			results = append(results, r)
			o.events.RowFinish(ctx, r)
		}
		o.release(chunk)
		done += len(chunk)
		o.events.ChunkFinish(ctx, i+1, inserted, chunkErr)
		return nil
	})

	// Only cancellation stops Execute early. Rows never submitted still get
	// a result and their files are released.
	if err != nil {
		rest := prepared[done:]
		for _, pr := range rest {
			r := domain.Failed(pr.SourceRowID, errors.Wrap(err, "not inserted"), pr.Files)
			results = append(results, r)
			o.events.RowFinish(ctx, r)
		}
		o.release(rest)
	}
	return results
}

// release deletes the staged documents of rows, once each.
func (o *Orchestrator) release(prepared []domain.PreparedRow) {
	for _, pr := range prepared {
		for i := range pr.Files {
			if err := attach.Release(&pr.Files[i]); err != nil {
				o.logger.Warn("staged document not released",
					zap.String(logging.FieldRowID, pr.SourceRowID), zap.Error(err))
			}
		}
	}
}
