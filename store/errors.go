package store

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/model"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
	// ErrMaterialize marks failures building a Memory segment.
	ErrMaterialize = errors.New("materialize memory segment")
)

// MaterializeError reports a failed Memory segment build. It matches
// ErrMaterialize and the underlying cause.
type MaterializeError struct {
	SegmentID model.SegmentID
	Cause     error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("materialize segment %s: %v", e.SegmentID.Short(), e.Cause)
}

func (e *MaterializeError) Unwrap() []error {
	return []error{ErrMaterialize, e.Cause}
}
