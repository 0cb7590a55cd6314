package catalog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// Kind classifies the content of a segment.
type Kind uint8

const (
	KindPersisted Kind = iota + 1
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindPersisted:
		return "persisted"
	case KindMemory:
		return "memory"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PersistedContent locates the flushed components of a segment.
type PersistedContent struct {
	Files map[model.Component]model.FileEntry
	// Retired holds superseded delete extents. Stores that loaded the entry
	// earlier may still read them, so they are freed by a reclamation pass
	// once the pin-test location is unpinned.
	Retired []model.FileEntry
}

// MemoryContent describes a segment whose rows still live in the heap.
type MemoryContent struct {
	// HeaderBlock is a page owned by the segment; it is the pin-test location.
	HeaderBlock model.BlockNumber
	// StagedRows are the heap rows to index.
	StagedRows []model.RowID
	// Snapshot is the point in time the rows are indexed as of.
	Snapshot *txn.Snapshot
	// Frozen segments accept no more rows and may be merged.
	Frozen bool
}

// SegmentEntry is the catalog record of one segment. Exactly one of
// Persisted and Memory is set.
type SegmentEntry struct {
	ID         model.SegmentID
	NumDocs    uint32
	NumDeleted uint32
	// XMin created the segment; XMax deleted it (model.InvalidXID while live).
	XMin      model.XID
	XMax      model.XID
	Persisted *PersistedContent
	Memory    *MemoryContent
}

// Kind returns the content variant.
func (e *SegmentEntry) Kind() Kind {
	if e.Memory != nil {
		return KindMemory
	}
	return KindPersisted
}

// LiveDocs returns the approximate number of non-deleted documents.
func (e *SegmentEntry) LiveDocs() uint32 {
	if e.NumDeleted >= e.NumDocs {
		return 0
	}
	return e.NumDocs - e.NumDeleted
}

// PinTestBlock returns the location whose pin keeps the segment from being
// reclaimed.
func (e *SegmentEntry) PinTestBlock() model.BlockNumber {
	if e.Memory != nil {
		return e.Memory.HeaderBlock
	}
	if e.Persisted != nil {
		for _, c := range model.Components {
			if fe, ok := e.Persisted.Files[c]; ok {
				return fe.StartingBlock
			}
		}
	}
	return model.InvalidBlockNumber
}

// File returns the extent of component c.
func (e *SegmentEntry) File(c model.Component) (model.FileEntry, bool) {
	if e.Persisted == nil {
		return model.FileEntry{}, false
	}
	fe, ok := e.Persisted.Files[c]
	return fe, ok
}

// Clone returns a deep copy.
func (e SegmentEntry) Clone() SegmentEntry {
	out := e
	if e.Persisted != nil {
		out.Persisted = &PersistedContent{
			Files:   maps.Clone(e.Persisted.Files),
			Retired: slices.Clone(e.Persisted.Retired),
		}
	}
	if e.Memory != nil {
		m := *e.Memory
		m.StagedRows = slices.Clone(e.Memory.StagedRows)
		if e.Memory.Snapshot != nil {
			m.Snapshot = e.Memory.Snapshot.Clone()
		}
		out.Memory = &m
	}
	return out
}

// Live reports whether the entry exists for snap: its creator is visible and
// its deleter, if any, is not.
func (e *SegmentEntry) Live(snap *txn.Snapshot, clog txn.StatusSource) bool {
	if !snap.Sees(e.XMin, clog) {
		return false
	}
	return e.XMax == model.InvalidXID || !snap.Sees(e.XMax, clog)
}

func (e SegmentEntry) String() string {
	return fmt.Sprintf("segment(%s %s docs=%d deleted=%d xmin=%d xmax=%d)",
		e.ID.Short(), e.Kind(), e.NumDocs, e.NumDeleted, e.XMin, e.XMax)
}
