package store

import (
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// SegmentRef identifies a segment handed to a parallel worker.
type SegmentRef struct {
	ID         model.SegmentID `json:"id"`
	NumDeleted uint32          `json:"num_deleted"`
}

// SegmentSet is the resolved, cost ordered segment list of one store.
type SegmentSet struct {
	Mode     mvcc.Mode
	Rule     mvcc.Rule
	Snapshot *txn.Snapshot
	Entries  []catalog.SegmentEntry

	index map[model.SegmentID]int
}

func newSegmentSet(mode mvcc.Mode, res mvcc.Resolution, snap *txn.Snapshot) *SegmentSet {
	s := &SegmentSet{
		Mode:     mode,
		Rule:     res.Rule,
		Snapshot: snap,
		Entries:  res.Entries,
		index:    make(map[model.SegmentID]int, len(res.Entries)),
	}
	for i, e := range s.Entries {
		s.index[e.ID] = i
	}
	return s
}

// Len returns the number of segments.
func (s *SegmentSet) Len() int {
	return len(s.Entries)
}

// Get returns the entry for id.
func (s *SegmentSet) Get(id model.SegmentID) (*catalog.SegmentEntry, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.Entries[i], true
}

// IDs returns the segment ids in order.
func (s *SegmentSet) IDs() []model.SegmentID {
	ids := make([]model.SegmentID, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Refs returns the (id, deleted count) pairs in order.
func (s *SegmentSet) Refs() []SegmentRef {
	refs := make([]SegmentRef, len(s.Entries))
	for i, e := range s.Entries {
		refs[i] = SegmentRef{ID: e.ID, NumDeleted: e.NumDeleted}
	}
	return refs
}

// Kinds returns the content variant of every segment in order.
func (s *SegmentSet) Kinds() []catalog.Kind {
	kinds := make([]catalog.Kind, len(s.Entries))
	for i := range s.Entries {
		kinds[i] = s.Entries[i].Kind()
	}
	return kinds
}
