// Package visibility decides whether indexed row ids are visible to a
// snapshot.
//
// An Oracle is a cursor bound to one relation and one snapshot. It first
// consults the relation's per-block all-visible summary and only fetches row
// data when the summary cannot answer. Rows that have been pruned are
// reported as invisible and recorded so materialization can treat them as
// tombstones. Superseded rows are resolved by walking their update chain.
//
// An Oracle is not safe for concurrent use; Clone gives each goroutine its
// own cursor over the same relation and snapshot.
package visibility
