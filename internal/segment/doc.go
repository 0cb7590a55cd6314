// Package segment implements the on-page format of index segments.
//
// A segment is a write-once set of documents split into components:
//
//   - terms: the sorted term dictionary, pointing into postings
//   - postings: one roaring bitmap of doc ids per term
//   - fast_fields: row ids plus numeric and keyword columns
//   - field_norms: per text field token counts
//   - store: the original documents
//   - delete: a roaring bitmap of deleted doc ids (optional)
//
// Each component is self-describing: a leading flag byte names its
// compression (none, lz4 or zstd). Persisted segments store components as
// page extents; memory segments keep the same bytes in an ephemeral index.
// Either way a Reader is opened through Handles.
package segment
