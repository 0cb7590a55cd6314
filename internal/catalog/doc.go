// Package catalog owns the authoritative segment list of one index.
//
// The list lives in host pages: block 0 is a metapage pointing at the
// current segment-list extent. Every commit writes a new extent and swaps
// the metapage (copy-on-write), so a reader never observes a half-written
// list. Entries are MVCC-aware: each carries the xid that created it and,
// once deleted by a merge, the xid that deleted it.
//
// Segments come in two flavors. Persisted segments reference their
// component extents. Memory segments only reference staged heap rows and
// the snapshot they must be indexed as of; the ephemeral index for them is
// built by the store layer.
package catalog
