// Package errors provides error handling for expense-migrate.
//
// It re-exports github.com/cockroachdb/errors and defines the failure
// categories the migration distinguishes:
//
//	ErrConfiguration   empty or invalid mapping, bad config. Fatal before any row.
//	ErrConnectivity    table API or object storage unreachable.
//	ErrRowPreparation  download/convert/merge failure for a single row.
//	ErrBatchInsert     insert call failed or returned a malformed id list.
//	ErrLedger          ledger missing or unreadable during recovery.
//
// Categories are attached with Mark, so the original message and stack are
// kept and errors.Is(err, ErrLedger) classifies the result:
//
//	if err := store.Get(ctx, key); err != nil {
//	    return errors.Ledger(errors.Wrapf(err, "read ledger %s", key))
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Failure categories.
var (
	ErrConfiguration  = New("configuration error")
	ErrConnectivity   = New("connectivity error")
	ErrRowPreparation = New("row preparation error")
	ErrBatchInsert    = New("batch insert error")
	ErrLedger         = New("ledger error")
)

// Configuration marks err as a configuration failure.
func Configuration(err error) error { return mark(err, ErrConfiguration) }

// Connectivity marks err as a connectivity failure.
func Connectivity(err error) error { return mark(err, ErrConnectivity) }

// RowPreparation marks err as a row preparation failure.
func RowPreparation(err error) error { return mark(err, ErrRowPreparation) }

// BatchInsert marks err as a batch insert failure.
func BatchInsert(err error) error { return mark(err, ErrBatchInsert) }

// Ledger marks err as a ledger failure.
func Ledger(err error) error { return mark(err, ErrLedger) }

func mark(err, category error) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, category)
}

// Category returns the category sentinel err was marked with, or nil.
func Category(err error) error {
	for _, c := range []error{ErrConfiguration, ErrConnectivity, ErrRowPreparation, ErrBatchInsert, ErrLedger} {
		if crdb.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsFatal reports whether err belongs to a category that aborts the run.
// Row and batch failures are recorded as results instead.
func IsFatal(err error) bool {
	return crdb.IsAny(err, ErrConfiguration, ErrConnectivity, ErrLedger)
}
