package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/mvccindex/internal/resource"
)

func TestLRU_Eviction(t *testing.T) {
	c := NewLRUBlockCache(20, nil)
	ctx := context.Background()

	for i := range 3 {
		c.Set(ctx, CacheKey{Kind: CacheKindPage, Offset: uint64(i)}, make([]byte, 8))
	}

	// The first page was evicted to make room for the third.
	_, ok := c.Get(ctx, CacheKey{Kind: CacheKindPage, Offset: 0})
	assert.False(t, ok)
	_, ok = c.Get(ctx, CacheKey{Kind: CacheKindPage, Offset: 2})
	assert.True(t, ok)
	assert.Equal(t, int64(16), c.Size())
	assert.Equal(t, 2, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_EdgeCases(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRUBlockCache(50, rc)
	ctx := context.Background()
	k := CacheKey{Kind: CacheKindBlob, Path: "pages/0000000001", Offset: 1}

	// Larger than capacity is never cached.
	c.Set(ctx, k, make([]byte, 60))
	_, ok := c.Get(ctx, k)
	assert.False(t, ok)

	c.Set(ctx, k, make([]byte, 10))
	assert.Equal(t, int64(10), c.Size())
	assert.Equal(t, int64(10), rc.MemoryUsage())

	c.Set(ctx, k, make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())

	c.Set(ctx, k, make([]byte, 5))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, int64(5), rc.MemoryUsage())

	// Growth denied by the controller keeps the old value.
	rc2 := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c2 := NewLRUBlockCache(50, rc2)
	c2.Set(ctx, k, make([]byte, 8))
	c2.Set(ctx, k, make([]byte, 12))
	v, ok := c2.Get(ctx, k)
	assert.True(t, ok)
	assert.Len(t, v, 8)
}

func TestLRU_Invalidate(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := NewLRUBlockCache(100, rc)
	ctx := context.Background()

	c.Set(ctx, CacheKey{Kind: CacheKindPage, Generation: 1, Offset: 1}, make([]byte, 4))
	c.Set(ctx, CacheKey{Kind: CacheKindPage, Generation: 2, Offset: 1}, make([]byte, 4))

	c.Invalidate(func(k CacheKey) bool { return k.Generation == 1 })
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(4), rc.MemoryUsage())

	assert.NoError(t, c.Close())
	assert.Zero(t, rc.MemoryUsage())
}
