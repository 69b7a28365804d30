// Package errors provides error handling for sensorcore.
//
// This package re-exports github.com/cockroachdb/errors, giving every
// wrapped error a stack trace, structured detail fields, and PII-safe
// formatting without inventing a bespoke error type.
//
//	err := errors.New("sensor not found")
//	if _, err := st.GetRunByID(ctx, id); err != nil {
//	    return errors.Wrap(err, "failed to load run")
//	}
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
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
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Advanced features
var (
	Handled                 = crdb.Handled
	HandledWithMessage      = crdb.HandledWithMessage
	WithDomain              = crdb.WithDomain
	GetDomain               = crdb.GetDomain
	WithContextTags         = crdb.WithContextTags
	EncodeError             = crdb.EncodeError
	DecodeError             = crdb.DecodeError
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Sentinel errors shared across packages.
var (
	ErrNotFound      = crdb.New("not found")
	ErrAlreadyExists = crdb.New("already exists")
	ErrConflict      = crdb.New("conflict")
)
