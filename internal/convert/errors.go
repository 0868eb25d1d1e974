package convert

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned when no conversion toolchain is configured
var ErrNotImplemented = errors.New("conversion not implemented")

// ErrNoMainTex means an extracted bundle held no usable .tex file
var ErrNoMainTex = errors.New("no main tex file found")

// Error is a terminal conversion failure: every applicable step failed.
// Step is the last step attempted.
type Error struct {
	Step   Step
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("conversion failed (%s): %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("conversion failed (%s): %s: %v", e.Step, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
