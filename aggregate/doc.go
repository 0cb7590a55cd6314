// Package aggregate computes metric aggregations over segments.
//
// Workers fold the visible matching documents of their segments into a
// Partial. Partials merge associatively and commutatively, so the order in
// which worker results arrive does not matter; Finalize applies global
// limits once all partials are merged.
package aggregate
