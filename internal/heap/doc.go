// Package heap implements the host row store the segment index points into.
//
// Rows live in fixed-capacity blocks; a row version is addressed by its
// model.RowID. Updates that fit into the same block produce heap-only
// versions chained from the original (a HOT chain) so the index keeps
// pointing at the chain root. Prune turns dead chain roots into redirect
// items and frees dead versions; freed offsets are never reused, so a stale
// index entry always reads as ErrRowNotFound instead of a different row.
//
// The visibility map is a roaring bitmap of blocks whose rows are all
// visible to every snapshot. Any modification of a block clears its bit.
package heap
