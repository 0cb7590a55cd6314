package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/mvccindex/internal/cache"
)

// CachingStore wraps a BlobStore and adds block-level read caching.
// Concurrent misses on the same block are coalesced into one backend read.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
	group     singleflight.Group
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 8KB if <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 8192
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open implements BlobStore.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{store: s, inner: b, name: name}, nil
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.CacheKey) bool {
		return key.Kind == cache.CacheKindBlob && key.Path == name
	})
}

// Put implements BlobStore and drops cached blocks of name.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete implements BlobStore and drops cached blocks of name.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List implements BlobStore.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type cachingBlob struct {
	store *CachingStore
	inner Blob
	name  string
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) key(blk int64) cache.CacheKey {
	return cache.CacheKey{Kind: cache.CacheKindBlob, Path: b.name, Offset: uint64(blk)}
}

// ReadAt implements Blob.
func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	bs := b.store.blockSize
	end := min(off+int64(len(p)), size)
	startBlock := off / bs
	endBlock := (end - 1) / bs

	blocks := make([][]byte, endBlock-startBlock+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for blk := startBlock; blk <= endBlock; blk++ {
		g.Go(func() error {
			data, err := b.block(gctx, blk)
			if err != nil {
				return err
			}
			blocks[blk-startBlock] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for i, data := range blocks {
		blkStart := (startBlock + int64(i)) * bs
		from := max(off, blkStart)
		to := min(end, blkStart+int64(len(data)))
		if to <= from {
			break
		}
		total += copy(p[from-off:], data[from-blkStart:to-blkStart])
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (b *cachingBlob) block(ctx context.Context, blk int64) ([]byte, error) {
	key := b.key(blk)
	if data, ok := b.store.cache.Get(ctx, key); ok {
		return data, nil
	}

	v, err, _ := b.store.group.Do(fmt.Sprintf("%s#%d", b.name, blk), func() (any, error) {
		bs := b.store.blockSize
		buf := make([]byte, bs)
		n, err := b.inner.ReadAt(ctx, buf, blk*bs)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		data := buf[:n]
		if n > 0 {
			b.store.cache.Set(ctx, key, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
