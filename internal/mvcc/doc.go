// Package mvcc resolves a snapshot mode against the catalog into the set of
// segments a scan reads and the row-visibility rule it applies.
//
// Resolve is a pure function: the same mode, entries and snapshot always
// produce the same resolution.
package mvcc
