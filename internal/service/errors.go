package service

import (
	"context"
	"errors"

	"github.com/ppiankov/markxiv/internal/cache"
	"github.com/ppiankov/markxiv/internal/convert"
	"github.com/ppiankov/markxiv/internal/source"
)

// Kind classifies a terminal request failure
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPdfOnly          Kind = "pdf_only"
	KindNetwork          Kind = "network"
	KindConversionFailed Kind = "conversion_failed"
	KindNotImplemented   Kind = "not_implemented"
	KindInvalidID        Kind = "invalid_id"
	KindInvalidQuery     Kind = "invalid_query"
)

// ErrInvalidID is returned for identifiers that cannot be normalized
var ErrInvalidID = cache.ErrInvalidID

// Error is a user-visible failure
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a service error, or "" for anything else
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// classify maps source, conversion and validation errors onto the
// taxonomy. Context errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var netErr *source.NetworkError
	var convErr *convert.Error
	switch {
	case errors.Is(err, cache.ErrInvalidID):
		return &Error{Kind: KindInvalidID, Reason: "invalid id", Err: err}
	case errors.Is(err, source.ErrInvalidQuery):
		return &Error{Kind: KindInvalidQuery, Reason: "query must not be empty", Err: err}
	case errors.Is(err, source.ErrNotFound):
		return &Error{Kind: KindNotFound, Reason: "not found", Err: err}
	case errors.Is(err, source.ErrPdfOnly):
		return &Error{Kind: KindPdfOnly, Reason: "Error: PDF only", Err: err}
	case errors.Is(err, source.ErrNotImplemented), errors.Is(err, convert.ErrNotImplemented):
		return &Error{Kind: KindNotImplemented, Reason: "not implemented", Err: err}
	case errors.As(err, &netErr):
		return &Error{Kind: KindNetwork, Reason: netErr.Error(), Err: err}
	case errors.As(err, &convErr):
		return &Error{Kind: KindConversionFailed, Reason: convErr.Error(), Err: err}
	default:
		return &Error{Kind: KindConversionFailed, Reason: err.Error(), Err: err}
	}
}
