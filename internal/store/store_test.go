package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/testutil"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sqliteStore, err := OpenSQLite(filepath.Join(dir, "run.db"))
	require.NoError(t, err)
	boltStore, err := OpenBolt(filepath.Join(dir, "run.bolt"))
	require.NoError(t, err)

	all := map[string]Store{
		BackendFile:   fileStore,
		BackendSQLite: sqliteStore,
		BackendBolt:   boltStore,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestBackends_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "failed_rows")
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			require.NoError(t, s.Put(ctx, "failed_rows", []byte(`{"a":1}`)))
			got, err := s.Get(ctx, "failed_rows")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(got))

			require.NoError(t, s.Put(ctx, "failed_rows", []byte(`{"a":2}`)))
			got, err = s.Get(ctx, "failed_rows")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got))
		})
	}
}

func TestBackends_RejectBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", `a\b`, ".hidden"} {
				assert.Error(t, s.Put(ctx, key, []byte("x")), "key %q", key)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	type doc struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, PutJSON(ctx, s, "migration_results", doc{IDs: []string{"a", "b"}}))

	content := testutil.ReadFile(t, s.Path("migration_results"))
	assert.Contains(t, content, `"ids": [`)

	var got doc
	require.NoError(t, GetJSON(ctx, s, "migration_results", &got))
	assert.Equal(t, []string{"a", "b"}, got.IDs)

	testutil.WriteFile(t, filepath.Dir(s.Path("broken")), "broken.json", "{not json")
	assert.Error(t, GetJSON(ctx, s, "broken", &got))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("", filepath.Join(dir, "ledgers"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	s.Close()

	s, err = Open("BOLT", filepath.Join(dir, "run.bolt"))
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	s.Close()

	_, err = Open("redis", dir)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	_, err = Open(BackendFile, "")
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}
