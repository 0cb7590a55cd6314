// Package model defines core types shared by the segment store and its collaborators.
//
// # Identity Types
//
//   - SegmentID: globally unique, immutable segment identifier (UUID)
//   - BlockNumber: host page address
//   - RowID: host row address (block, offset), the ctid of a row version
//   - XID: host transaction identifier
//
// # Storage Types
//
//   - Component: one logical file of a segment (postings, terms, ...)
//   - FileEntry: a component's location as a run of host pages
//
// # Data Types
//
//   - Document: the indexed projection of one row version
package model
