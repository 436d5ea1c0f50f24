// Package events carries run progress to subscribers: the log, an NDJSON
// stream and the event_log table of the run database.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
)

// Type identifies an event.
type Type string

const (
	PhaseChanged  Type = "phase.changed"
	RowStarted    Type = "row.started"
	RowFinished   Type = "row.finished"
	ChunkStarted  Type = "chunk.started"
	ChunkFinished Type = "chunk.finished"
)

// Event is one progress notification.
type Event struct {
	Type    Type         `json:"type"`
	RunID   string       `json:"runId"`
	Time    time.Time    `json:"time"`
	Phase   domain.Phase `json:"phase,omitempty"`
	RowID   string       `json:"rowId,omitempty"`
	Chunk   int          `json:"chunk,omitempty"` // 1-based
	Count   int          `json:"count,omitempty"` // rows in the chunk, or succeeded rows when finished
	Success *bool        `json:"success,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Sink receives events. Emit must not block for long; errors are reported
// by the Emitter and never stop a run.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Emitter stamps events with the run id and time and fans them out.
type Emitter struct {
	runID  string
	sinks  []Sink
	now    func() time.Time
	logger *zap.Logger
}

// NewEmitter creates an Emitter for runID. Nil sinks are skipped.
func NewEmitter(runID string, logger *zap.Logger, sinks ...Sink) *Emitter {
	em := &Emitter{runID: runID, now: time.Now, logger: logging.OrNop(logger)}
	for _, s := range sinks {
		if s != nil {
			em.sinks = append(em.sinks, s)
		}
	}
	return em
}

// RunID returns the run id events are stamped with.
func (em *Emitter) RunID() string {
	if em == nil {
		return ""
	}
	return em.runID
}

// Emit sends e to every sink. A nil Emitter drops events.
func (em *Emitter) Emit(ctx context.Context, e Event) {
	if em == nil {
		return
	}
	e.RunID = em.runID
	if e.Time.IsZero() {
		e.Time = em.now().UTC()
	}
	for _, s := range em.sinks {
		if err := s.Emit(ctx, e); err != nil {
			em.logger.Warn("event not delivered", zap.String("event", string(e.Type)), zap.Error(err))
		}
	}
}

// Phase emits PhaseChanged.
func (em *Emitter) Phase(ctx context.Context, p domain.Phase) {
	em.Emit(ctx, Event{Type: PhaseChanged, Phase: p})
}

// RowStart emits RowStarted.
func (em *Emitter) RowStart(ctx context.Context, rowID string) {
	em.Emit(ctx, Event{Type: RowStarted, RowID: rowID})
}

// RowFinish emits RowFinished for r.
func (em *Emitter) RowFinish(ctx context.Context, r domain.MigrationResult) {
	ok := r.Success
	em.Emit(ctx, Event{Type: RowFinished, RowID: r.SourceRowID, Success: &ok, Error: r.Error})
}

// ChunkStart emits ChunkStarted for the 1-based chunk of size rows.
func (em *Emitter) ChunkStart(ctx context.Context, chunk, size int) {
	em.Emit(ctx, Event{Type: ChunkStarted, Chunk: chunk, Count: size})
}

// ChunkFinish emits ChunkFinished with the number of rows inserted.
func (em *Emitter) ChunkFinish(ctx context.Context, chunk, inserted int, err error) {
	e := Event{Type: ChunkFinished, Chunk: chunk, Count: inserted}
	ok := err == nil
	e.Success = &ok
	if err != nil {
		e.Error = err.Error()
	}
	em.Emit(ctx, e)
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger).Named("progress")}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, e Event) error {
	fields := []zap.Field{zap.String(logging.FieldRunID, e.RunID)}
	switch e.Type {
	case PhaseChanged:
		s.logger.Info("phase", append(fields, zap.String(logging.FieldPhase, string(e.Phase)))...)
	case RowStarted:
		s.logger.Debug("row started", append(fields, zap.String(logging.FieldRowID, e.RowID))...)
	case RowFinished:
		fields = append(fields, zap.String(logging.FieldRowID, e.RowID))
		if e.Success != nil && !*e.Success {
			s.logger.Warn("row failed", append(fields, zap.String("error", e.Error))...)
		} else {
			s.logger.Debug("row migrated", fields...)
		}
	case ChunkStarted:
		s.logger.Info("inserting chunk", append(fields,
			zap.Int(logging.FieldChunk, e.Chunk), zap.Int(logging.FieldBatchSize, e.Count))...)
	case ChunkFinished:
		fields = append(fields, zap.Int(logging.FieldChunk, e.Chunk), zap.Int(logging.FieldCount, e.Count))
		if e.Error != "" {
			s.logger.Warn("chunk failed", append(fields, zap.String("error", e.Error))...)
		} else {
			s.logger.Info("chunk inserted", fields...)
		}
	}
	return nil
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a JSONSink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Emit implements Sink.
func (s *JSONSink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

// Writer records events in the event_log table.
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Emit implements Sink.
func (w *Writer) Emit(ctx context.Context, e Event) error {
	query := `
		INSERT INTO event_log (run_id, type, phase, row_id, chunk, count, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var success sql.NullBool
	if e.Success != nil {
		success = sql.NullBool{Bool: *e.Success, Valid: true}
	}
	_, err := w.db.ExecContext(ctx, query,
		e.RunID, string(e.Type), nullString(string(e.Phase)), nullString(e.RowID),
		nullInt(e.Chunk), nullInt(e.Count), success, nullString(e.Error),
		e.Time.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
