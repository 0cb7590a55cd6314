package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentNotFound is returned for ids the catalog does not hold. It is
	// expected when a segment was reclaimed concurrently.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrSegmentFrozen is returned when appending to a frozen memory segment.
	ErrSegmentFrozen = errors.New("segment is frozen")
	// ErrSegmentDeleted is returned when deleting an already deleted segment.
	ErrSegmentDeleted = errors.New("segment already deleted")
	// ErrWrongKind is returned when an operation does not apply to the
	// segment's content variant.
	ErrWrongKind = errors.New("wrong segment kind")
	// ErrCorrupt marks undecodable catalog pages.
	ErrCorrupt = errors.New("catalog corrupt")
)

// CorruptError describes an undecodable catalog record.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog corrupt: %s: %v", e.Reason, e.Err)
	}
	return "catalog corrupt: " + e.Reason
}

func (e *CorruptError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorrupt, e.Err}
	}
	return []error{ErrCorrupt}
}
