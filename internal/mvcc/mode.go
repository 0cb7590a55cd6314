package mvcc

import (
	"fmt"
	"slices"

	"github.com/hupe1980/mvccindex/model"
)

// ModeKind enumerates the snapshot modes.
type ModeKind uint8

const (
	// ModeSnapshot is ordinary current-transaction visibility.
	ModeSnapshot ModeKind = iota + 1
	// ModeVacuum sees every segment, dead and uncommitted ones included.
	ModeVacuum
	// ModeMergeable selects segments a background merge may combine.
	ModeMergeable
	// ModeLargestSegmentOnly selects the single dominant segment.
	ModeLargestSegmentOnly
	// ModeParallelWorkerSubset restricts a base mode to the segments one
	// parallel worker was assigned.
	ModeParallelWorkerSubset
)

func (k ModeKind) String() string {
	switch k {
	case ModeSnapshot:
		return "snapshot"
	case ModeVacuum:
		return "vacuum"
	case ModeMergeable:
		return "mergeable"
	case ModeLargestSegmentOnly:
		return "largest_segment_only"
	case ModeParallelWorkerSubset:
		return "parallel_worker_subset"
	default:
		return fmt.Sprintf("mode(%d)", uint8(k))
	}
}

// Mode is a snapshot mode. The zero value is invalid; use the constructors.
type Mode struct {
	Kind ModeKind `json:"kind"`
	// Base is the mode a worker subset narrows.
	Base *Mode `json:"base,omitempty"`
	// Segments lists the ids of a worker subset.
	Segments []model.SegmentID `json:"segments,omitempty"`
}

// Snapshot returns the ordinary snapshot mode.
func Snapshot() Mode { return Mode{Kind: ModeSnapshot} }

// Vacuum returns the reclamation mode.
func Vacuum() Mode { return Mode{Kind: ModeVacuum} }

// Mergeable returns the merge-candidate mode.
func Mergeable() Mode { return Mode{Kind: ModeMergeable} }

// LargestSegmentOnly returns the single-segment maintenance mode.
func LargestSegmentOnly() Mode { return Mode{Kind: ModeLargestSegmentOnly} }

// ParallelWorkerSubset narrows base to ids.
func ParallelWorkerSubset(base Mode, ids []model.SegmentID) Mode {
	b := base
	return Mode{Kind: ModeParallelWorkerSubset, Base: &b, Segments: slices.Clone(ids)}
}

// Validate reports ErrResolverMismatch for modes no resolution exists for.
func (m Mode) Validate() error {
	switch m.Kind {
	case ModeSnapshot, ModeVacuum, ModeMergeable, ModeLargestSegmentOnly:
		return nil
	case ModeParallelWorkerSubset:
		if m.Base == nil {
			return fmt.Errorf("%w: worker subset without base mode", ErrResolverMismatch)
		}
		switch m.Base.Kind {
		case ModeSnapshot, ModeVacuum, ModeMergeable:
			return nil
		}
		return fmt.Errorf("%w: worker subset of %s", ErrResolverMismatch, m.Base.Kind)
	default:
		return fmt.Errorf("%w: %s", ErrResolverMismatch, m.Kind)
	}
}

func (m Mode) String() string {
	if m.Kind == ModeParallelWorkerSubset && m.Base != nil {
		return fmt.Sprintf("%s(%s, %d segments)", m.Kind, m.Base.Kind, len(m.Segments))
	}
	return m.Kind.String()
}
