package pagestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/mvccindex/blobstore"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/cache"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/model"
)

// PageSize is the size of one host page in bytes.
const PageSize = 8192

var (
	// ErrBlockOutOfRange is returned for block numbers past the end of the store.
	ErrBlockOutOfRange = errors.New("block out of range")
	// ErrPinned is returned when freeing a block that is still pinned.
	ErrPinned = errors.New("block is pinned")
	// ErrPageTooLarge is returned when writing more than PageSize bytes.
	ErrPageTooLarge = errors.New("page too large")
	// ErrNoBackend is returned by Checkpoint when no blob store is configured.
	ErrNoBackend = errors.New("no checkpoint backend configured")
)

// Run is a contiguous range of blocks.
type Run struct {
	Start model.BlockNumber `json:"start"`
	Count uint32            `json:"count"`
}

// Options configures a Store.
type Options struct {
	// Backend receives checkpoints. Nil keeps the store memory-only.
	Backend blobstore.BlobStore
	// Committer publishes checkpoint manifests. Defaults to a
	// blobstore.BlobCommitter on Backend.
	Committer blobstore.Committer
	// Cache holds clean pages read back from Backend. Defaults to a 64 MiB LRU.
	Cache cache.BlockCache
	// ResourceController rate-limits checkpoint IO.
	ResourceController *resource.Controller
	// Codec encodes manifests. Defaults to codec.Default.
	Codec codec.Codec
	// Logger receives lifecycle events.
	Logger *slog.Logger
}

// Store is a block-addressed page store.
type Store struct {
	opts Options

	mu         sync.RWMutex
	nblocks    uint32
	resident   map[model.BlockNumber][]byte
	dirty      map[model.BlockNumber]uint64
	dirtySeq   uint64
	free       []Run
	pins       map[model.BlockNumber]int
	generation uint64
	images     map[model.BlockNumber]uint64
	garbage    []string

	checkpointMu sync.Mutex
}

// New creates an empty store.
func New(optFns ...func(o *Options)) *Store {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewLRUBlockCache(64<<20, opts.ResourceController)
	}
	if opts.Backend != nil && opts.Committer == nil {
		opts.Committer = blobstore.NewBlobCommitter(opts.Backend)
	}
	return &Store{
		opts:     opts,
		resident: make(map[model.BlockNumber][]byte),
		dirty:    make(map[model.BlockNumber]uint64),
		pins:     make(map[model.BlockNumber]int),
		images:   make(map[model.BlockNumber]uint64),
	}
}

// Open creates a store and recovers the latest published checkpoint, if any.
func Open(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	s := New(optFns...)
	if s.opts.Backend == nil {
		return s, nil
	}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) logger() *slog.Logger {
	if s.opts.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.opts.Logger
}

// NumBlocks returns the number of allocated blocks, free ones included.
func (s *Store) NumBlocks() model.BlockNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.BlockNumber(s.nblocks)
}

// Generation returns the last published checkpoint generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Extend allocates n contiguous zeroed blocks and returns the first one.
// Freed runs are reused first-fit.
func (s *Store) Extend(n int) (model.BlockNumber, error) {
	if n <= 0 {
		return model.InvalidBlockNumber, fmt.Errorf("extend: invalid block count %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.free {
		if r.Count < uint32(n) {
			continue
		}
		start := r.Start
		if r.Count == uint32(n) {
			s.free = slices.Delete(s.free, i, i+1)
		} else {
			s.free[i] = Run{Start: r.Start + model.BlockNumber(n), Count: r.Count - uint32(n)}
		}
		return start, nil
	}

	if uint64(s.nblocks)+uint64(n) >= uint64(model.InvalidBlockNumber) {
		return model.InvalidBlockNumber, fmt.Errorf("extend: %w", ErrBlockOutOfRange)
	}
	start := model.BlockNumber(s.nblocks)
	s.nblocks += uint32(n)
	return start, nil
}

// Free returns n blocks starting at start to the free list. Pinned blocks
// are never freed.
func (s *Store) Free(start model.BlockNumber, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(start)+uint64(n) > uint64(s.nblocks) {
		return fmt.Errorf("free %d+%d: %w", start, n, ErrBlockOutOfRange)
	}
	for i := range n {
		blk := start + model.BlockNumber(i)
		if s.pins[blk] > 0 {
			return fmt.Errorf("free %d: %w", blk, ErrPinned)
		}
	}
	for i := range n {
		blk := start + model.BlockNumber(i)
		delete(s.resident, blk)
		delete(s.dirty, blk)
		if gen, ok := s.images[blk]; ok {
			s.garbage = append(s.garbage, imageName(gen, blk))
			delete(s.images, blk)
		}
	}
	s.free = mergeRun(s.free, Run{Start: start, Count: uint32(n)})
	return nil
}

// FreeBlocks returns the number of blocks on the free list.
func (s *Store) FreeBlocks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.free {
		total += int(r.Count)
	}
	return total
}

func mergeRun(runs []Run, r Run) []Run {
	i, _ := slices.BinarySearchFunc(runs, r.Start, func(a Run, b model.BlockNumber) int {
		return cmp.Compare(a.Start, b)
	})
	runs = slices.Insert(runs, i, r)

	merged := runs[:0]
	for _, cur := range runs {
		if n := len(merged); n > 0 && merged[n-1].Start+model.BlockNumber(merged[n-1].Count) == cur.Start {
			merged[n-1].Count += cur.Count
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// ReadPage returns a copy of the page at blk.
func (s *Store) ReadPage(ctx context.Context, blk model.BlockNumber) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if uint32(blk) >= s.nblocks {
		s.mu.RUnlock()
		return nil, fmt.Errorf("read %d: %w", blk, ErrBlockOutOfRange)
	}
	if page, ok := s.resident[blk]; ok {
		out := slices.Clone(page)
		s.mu.RUnlock()
		return out, nil
	}
	gen, ok := s.images[blk]
	s.mu.RUnlock()

	if !ok {
		return make([]byte, PageSize), nil
	}
	page, err := s.readImage(ctx, blk, gen)
	if err != nil {
		return nil, err
	}
	return slices.Clone(page), nil
}

func (s *Store) readImage(ctx context.Context, blk model.BlockNumber, gen uint64) ([]byte, error) {
	key := cache.CacheKey{Kind: cache.CacheKindPage, Generation: gen, Offset: uint64(blk)}
	if page, ok := s.opts.Cache.Get(ctx, key); ok {
		return page, nil
	}
	if s.opts.Backend == nil {
		return nil, fmt.Errorf("read %d: %w", blk, ErrNoBackend)
	}
	page, err := blobstore.ReadAll(ctx, s.opts.Backend, imageName(gen, blk))
	if err != nil {
		return nil, fmt.Errorf("read page image %d@%d: %w", blk, gen, err)
	}
	if len(page) != PageSize {
		return nil, fmt.Errorf("page image %d@%d has %d bytes", blk, gen, len(page))
	}
	s.opts.Cache.Set(ctx, key, page)
	return page, nil
}

// WritePage replaces the page at blk. Shorter data is zero-padded.
func (s *Store) WritePage(ctx context.Context, blk model.BlockNumber, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > PageSize {
		return fmt.Errorf("write %d: %w (%d bytes)", blk, ErrPageTooLarge, len(data))
	}
	page := make([]byte, PageSize)
	copy(page, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(blk) >= s.nblocks {
		return fmt.Errorf("write %d: %w", blk, ErrBlockOutOfRange)
	}
	s.resident[blk] = page
	s.dirtySeq++
	s.dirty[blk] = s.dirtySeq
	return nil
}

// DirtyPages returns the number of pages written since the last checkpoint.
func (s *Store) DirtyPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}
