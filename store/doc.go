// Package store is the per-scan view of an index's segments.
//
// A Store resolves the segments eligible under its mvcc.Mode exactly once,
// pins their bookkeeping so reclamation leaves them alone, and opens
// component handles for the segment reader. Memory segments are indexed on
// first use, as of the snapshot captured when they were staged, and the
// result lives as long as the Store.
//
// Store instances are not shared between parallel workers; every worker
// opens its own under mvcc.ParallelWorkerSubset.
package store
