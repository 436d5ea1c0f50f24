package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryMarks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  error
		fatal bool
	}{
		{"configuration", Configuration(New("empty mapping")), ErrConfiguration, true},
		{"connectivity", Connectivity(New("dial tcp: refused")), ErrConnectivity, true},
		{"row", RowPreparation(New("download failed")), ErrRowPreparation, false},
		{"batch", BatchInsert(New("502")), ErrBatchInsert, false},
		{"ledger", Ledger(New("no such file")), ErrLedger, true},
		{"unmarked", New("plain"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestMarkSurvivesWrapping(t *testing.T) {
	base := Ledger(New("missing"))
	wrapped := Wrap(fmt.Errorf("outer: %w", base), "recover")

	require.True(t, Is(wrapped, ErrLedger))
	assert.Contains(t, wrapped.Error(), "missing")
}

func TestMarkNil(t *testing.T) {
	assert.NoError(t, Configuration(nil))
	assert.NoError(t, BatchInsert(nil))
}
