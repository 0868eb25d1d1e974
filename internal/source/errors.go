package source

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means arXiv has no paper with the requested id
	ErrNotFound = errors.New("paper not found")
	// ErrPdfOnly means the paper has no LaTeX source bundle, only a PDF
	ErrPdfOnly = errors.New("pdf only")
	// ErrNotImplemented is returned by clients that lack an operation
	ErrNotImplemented = errors.New("not implemented")
	// ErrDisallowed means robots.txt forbids the request
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// NetworkError is a failed upstream exchange: transport errors, unexpected
// status codes and payloads of the wrong kind.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("arxiv %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func networkErr(op string, format string, args ...any) error {
	return &NetworkError{Op: op, Err: fmt.Errorf(format, args...)}
}
