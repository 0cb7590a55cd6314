package mvcc

import (
	"cmp"
	"errors"
	"slices"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// ErrResolverMismatch is returned for snapshot modes that request an
// inconsistent view. It signals a programming error.
var ErrResolverMismatch = errors.New("resolver mismatch")

// Rule is the row-visibility rule a scan applies.
type Rule uint8

const (
	// RuleSnapshot filters rows through the visibility oracle.
	RuleSnapshot Rule = iota + 1
	// RuleAny accepts every row without visibility checks.
	RuleAny
)

func (r Rule) String() string {
	switch r {
	case RuleSnapshot:
		return "snapshot"
	case RuleAny:
		return "any"
	default:
		return "unknown"
	}
}

// NeedsVisibility reports whether rows must be checked against a snapshot.
func (r Rule) NeedsVisibility() bool {
	return r != RuleAny
}

// Resolution is the outcome of resolving a mode.
type Resolution struct {
	// Entries keeps catalog order.
	Entries []catalog.SegmentEntry
	Rule    Rule
}

// IDs returns the ids of the resolved entries.
func (r Resolution) IDs() []model.SegmentID {
	ids := make([]model.SegmentID, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Resolve computes the eligible entries and visibility rule of mode.
func Resolve(mode Mode, entries []catalog.SegmentEntry, snap *txn.Snapshot, clog txn.StatusSource) (Resolution, error) {
	if err := mode.Validate(); err != nil {
		return Resolution{}, err
	}

	live := func() []catalog.SegmentEntry {
		out := make([]catalog.SegmentEntry, 0, len(entries))
		for _, e := range entries {
			if e.Live(snap, clog) {
				out = append(out, e)
			}
		}
		return out
	}

	switch mode.Kind {
	case ModeSnapshot:
		return Resolution{Entries: live(), Rule: RuleSnapshot}, nil

	case ModeVacuum:
		return Resolution{Entries: slices.Clone(entries), Rule: RuleAny}, nil

	case ModeMergeable:
		out := slices.DeleteFunc(live(), func(e catalog.SegmentEntry) bool {
			return e.Memory != nil && !e.Memory.Frozen
		})
		return Resolution{Entries: out, Rule: RuleSnapshot}, nil

	case ModeLargestSegmentOnly:
		candidates := live()
		if len(candidates) == 0 {
			return Resolution{Rule: RuleSnapshot}, nil
		}
		best := slices.MaxFunc(candidates, func(a, b catalog.SegmentEntry) int {
			if c := cmp.Compare(a.LiveDocs(), b.LiveDocs()); c != 0 {
				return c
			}
			// Lower id wins ties.
			return b.ID.Compare(a.ID)
		})
		return Resolution{Entries: []catalog.SegmentEntry{best}, Rule: RuleSnapshot}, nil

	default: // ModeParallelWorkerSubset
		base, err := Resolve(*mode.Base, entries, snap, clog)
		if err != nil {
			return Resolution{}, err
		}
		wanted := make(map[model.SegmentID]struct{}, len(mode.Segments))
		for _, id := range mode.Segments {
			wanted[id] = struct{}{}
		}
		base.Entries = slices.DeleteFunc(base.Entries, func(e catalog.SegmentEntry) bool {
			_, ok := wanted[e.ID]
			return !ok
		})
		return base, nil
	}
}
