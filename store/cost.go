package store

import (
	"cmp"
	"math"

	"github.com/hupe1980/mvccindex/internal/catalog"
)

// Cost estimates the work of scanning e. Memory segments are priced above
// every persisted segment since indexing them on demand dominates their
// document count.
func Cost(e *catalog.SegmentEntry) uint64 {
	if e.Kind() == catalog.KindMemory {
		return math.MaxUint32 + uint64(e.NumDocs)
	}
	return uint64(e.NumDocs)
}

// CompareCost orders segments cheapest first, breaking ties by id.
func CompareCost(a, b *catalog.SegmentEntry) int {
	if c := cmp.Compare(Cost(a), Cost(b)); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}
