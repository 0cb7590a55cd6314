package cache

import (
	"context"
)

// CacheKind is used to separate key spaces.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindPage              // clean host pages read back from a checkpoint
	CacheKindBlob              // generic blob store blocks
)

// CacheKey must be stable across store instances.
type CacheKey struct {
	Kind CacheKind
	// Generation is the checkpoint generation a page was read from. Pages of
	// different generations never alias.
	Generation uint64
	// Offset is a logical block identifier (page number or byte offset).
	Offset uint64
	// Path identifies the source blob, if any.
	Path string
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a block. Implementations may retain b; caller must treat b as immutable.
	Set(ctx context.Context, key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Close releases any resources.
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
