package events

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/testutil"
)

type recorder struct{ events []Event }

func (r *recorder) Emit(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestEmitter_StampsAndFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	em := NewEmitter("run-1", nil, a, nil, b)
	ctx := context.Background()

	em.Phase(ctx, domain.PhasePrepare)
	em.RowStart(ctx, "i-1")
	em.RowFinish(ctx, domain.Failed("i-1", errors.New("boom"), nil))

	require.Len(t, a.events, 3)
	assert.Equal(t, a.events, b.events)
	for _, e := range a.events {
		assert.Equal(t, "run-1", e.RunID)
		assert.False(t, e.Time.IsZero())
	}
	last := a.events[2]
	assert.Equal(t, RowFinished, last.Type)
	require.NotNil(t, last.Success)
	assert.False(t, *last.Success)
	assert.Equal(t, "boom", last.Error)
}

func TestEmitter_SinkErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("disk full") })
	ok := &recorder{}

	NewEmitter("run-1", zap.New(core), failing, ok).ChunkStart(context.Background(), 1, 20)

	assert.Len(t, ok.events, 1)
	assert.Equal(t, 1, logs.FilterMessage("event not delivered").Len())
}

func TestNilEmitter(t *testing.T) {
	var em *Emitter
	em.Phase(context.Background(), domain.PhaseDone)
	assert.Equal(t, "", em.RunID())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	em := NewEmitter("run-2", nil, NewJSONSink(&buf))
	em.ChunkStart(context.Background(), 1, 20)
	em.ChunkFinish(context.Background(), 1, 20, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, ChunkFinished, e.Type)
	assert.Equal(t, 20, e.Count)
	require.NotNil(t, e.Success)
	assert.True(t, *e.Success)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	em := NewEmitter("run-3", nil, NewLogSink(zap.New(core)))
	ctx := context.Background()

	em.Phase(ctx, domain.PhaseInsert)
	em.ChunkFinish(ctx, 2, 0, errors.New("502"))
	em.RowFinish(ctx, domain.Succeeded("i-1", "n-1", nil))

	assert.Equal(t, 1, logs.FilterMessage("phase").Len())
	assert.Equal(t, 1, logs.FilterMessage("chunk failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("row migrated").Len())
}

func TestWriter_RoundTrip(t *testing.T) {
	database := testutil.TempDB(t)
	w := NewWriter(database.DB)
	ctx := context.Background()

	em := NewEmitter("run-4", nil, w)
	em.Phase(ctx, domain.PhasePrepare)
	em.RowFinish(ctx, domain.Failed("i-7", errors.New("download failed"), nil))
	em.ChunkFinish(ctx, 1, 3, nil)

	// Events from other runs are not returned.
	NewEmitter("other", nil, w).Phase(ctx, domain.PhaseDone)

	rows, err := database.QueryContext(ctx, `
		SELECT type, phase, row_id, chunk, count, success, error, created_at
		FROM event_log WHERE run_id = ? ORDER BY id
	`, "run-4")
	require.NoError(t, err)
	defer rows.Close()

	type logged struct {
		typ                   string
		phase, rowID, errText sql.NullString
		chunk, count          sql.NullInt64
		success               sql.NullBool
		created               string
	}
	var got []logged
	for rows.Next() {
		var l logged
		require.NoError(t, rows.Scan(&l.typ, &l.phase, &l.rowID, &l.chunk, &l.count, &l.success, &l.errText, &l.created))
		got = append(got, l)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)

	assert.Equal(t, string(PhaseChanged), got[0].typ)
	assert.Equal(t, string(domain.PhasePrepare), got[0].phase.String)
	assert.False(t, got[0].success.Valid)

	assert.Equal(t, "i-7", got[1].rowID.String)
	require.True(t, got[1].success.Valid)
	assert.False(t, got[1].success.Bool)
	assert.Equal(t, "download failed", got[1].errText.String)

	assert.Equal(t, int64(1), got[2].chunk.Int64)
	assert.Equal(t, int64(3), got[2].count.Int64)
	_, err = time.Parse(time.RFC3339Nano, got[2].created)
	assert.NoError(t, err)
}
