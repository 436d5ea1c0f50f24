// Package store persists small JSON documents (failure ledgers, run results)
// under string keys. Backends: a directory of files, the SQLite run
// database, or a bbolt file.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jorgenin/expense-migration/internal/errors"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a durable key/value store.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Open returns the backend named by kind rooted at location: a directory for
// "file", a database path for "sqlite" and "bolt".
func Open(kind, location string) (Store, error) {
	if location == "" {
		return nil, errors.Configuration(errors.New("store location is not set"))
	}
	switch strings.ToLower(kind) {
	case "", BackendFile:
		return NewFileStore(location)
	case BackendSQLite:
		return OpenSQLite(location)
	case BackendBolt:
		return OpenBolt(location)
	default:
		return nil, errors.Configuration(errors.Newf("unknown store backend %q", kind))
	}
}

// PutJSON marshals v with indentation and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return s.Put(ctx, key, data)
}

// GetJSON loads key into v. It returns ErrNotFound when the key is missing.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return errors.Newf("invalid store key %q", key)
	}
	return nil
}
