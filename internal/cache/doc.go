// Package cache provides LRU caching for immutable blocks.
//
// The page store keeps clean pages read back from a checkpoint in an
// LRUBlockCache keyed by (generation, block). The caching blob store uses the
// same cache for ranged blob reads. Cached bytes are charged against the
// resource controller's memory budget; a denied charge means the block is
// simply not cached.
package cache
