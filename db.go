package mvccindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/mvccindex/blobstore"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/cache"
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/metrics"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/store"
)

// tableOID is the relation id of the single table a DB indexes.
const tableOID = 1

// remoteBlockSize is the read granularity of the cache in front of remote
// blob stores.
const remoteBlockSize = 256 << 10

// hostImagePrefix names the blobs holding the heap and commit log of each
// checkpoint generation.
const hostImagePrefix = "host/"

// hostImage is the process-local state a checkpoint saves next to the pages.
type hostImage struct {
	Clog  txn.Image  `json:"clog"`
	Table heap.Image `json:"table"`
}

func hostImageName(gen uint64, c codec.Codec) string {
	return fmt.Sprintf("%s%020d.%s", hostImagePrefix, gen, c.Name())
}

// DB is an indexed table: a heap of rows, the transaction log deciding their
// visibility, and the segment catalog indexing them.
type DB struct {
	cfg      Config
	logger   *Logger
	observer metrics.Observer
	rc       *resource.Controller
	codec    codec.Codec
	backend  blobstore.BlobStore
	cache    *cache.LRUBlockCache
	segOpts  []func(o *segment.Options)

	// mu is held shared by every mutation and exclusively by Checkpoint and
	// Close, so checkpoints see a quiescent heap.
	mu      sync.RWMutex
	closed  bool
	clog    *txn.Manager
	table   *heap.Table
	pages   *pagestore.Store
	catalog *catalog.Catalog
}

// Open creates a DB, recovering the latest checkpoint of the configured
// storage when there is one.
func Open(ctx context.Context, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	cfg := o.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := &DB{
		cfg:      cfg,
		logger:   o.logger,
		observer: o.observer,
		rc:       o.resourceController,
		codec:    o.codec,
	}
	if db.logger == nil {
		db.logger = cfg.logger()
	}
	if db.observer == nil {
		db.observer = metrics.NoopObserver{}
	}
	if db.codec == nil {
		db.codec, _ = codec.ByName(cfg.codecName())
	}
	if db.rc == nil {
		db.rc = resource.NewController(resource.Config{
			MemoryLimitBytes:   cfg.MemoryLimitBytes,
			MaxParallelWorkers: int64(max(cfg.MaxParallelWorkers, 1)),
			IOLimitBytesPerSec: cfg.IOLimitBytesPerSec,
		})
	}

	if err := db.configureSegments(cfg, o); err != nil {
		return nil, err
	}

	backend, committer := o.backend, o.committer
	if backend == nil {
		var err error
		backend, committer, err = cfg.Storage.backend(ctx)
		if err != nil {
			return nil, err
		}
	}
	db.cache = cache.NewLRUBlockCache(cfg.PageCacheBytes, db.rc)
	if backend != nil && cfg.Storage.remote() {
		backend = blobstore.NewCachingStore(backend, db.cache, remoteBlockSize)
	}
	db.backend = backend

	pages, err := pagestore.Open(ctx, func(po *pagestore.Options) {
		po.Backend = backend
		po.Committer = committer
		po.Cache = db.cache
		po.ResourceController = db.rc
		po.Codec = db.codec
		po.Logger = db.logger.WithComponent("pagestore").Logger
	})
	if err != nil {
		return nil, fmt.Errorf("open page store: %w", err)
	}
	db.pages = pages

	if err := db.recoverHost(ctx); err != nil {
		return nil, err
	}

	db.catalog, err = catalog.Open(ctx, pages, db.clog, db.logger.WithComponent("catalog").Logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	db.logger.InfoContext(ctx, "Database opened",
		"storage", cfg.Storage.Kind,
		"generation", pages.Generation(),
		"heap_blocks", db.table.NumBlocks(),
	)
	return db, nil
}

func (db *DB) configureSegments(cfg Config, o options) error {
	an := o.analyzer
	if an == nil {
		var err error
		if an, err = segment.AnalyzerNamed(cfg.Analyzer); err != nil {
			return fmt.Errorf("%w: analyzer %q: %w", ErrInvalidConfig, cfg.Analyzer, err)
		}
	}
	comp, err := cfg.compression()
	if err != nil {
		return err
	}
	c := db.codec
	db.segOpts = append(db.segOpts, func(so *segment.Options) {
		so.Analyzer = an
		so.Codec = c
		if comp != nil {
			so.FastFieldCompression = *comp
			so.StoreCompression = *comp
		}
	})
	return nil
}

// recoverHost restores the heap and commit log saved with the recovered
// page generation, or starts empty.
func (db *DB) recoverHost(ctx context.Context) error {
	gen := db.pages.Generation()
	if gen == 0 {
		db.clog = txn.NewManager()
		db.table = heap.NewTable(tableOID, db.clog)
		return nil
	}

	names, err := db.backend.List(ctx, hostImagePrefix)
	if err != nil {
		return fmt.Errorf("list host images: %w", err)
	}
	want := strings.TrimSuffix(hostImageName(gen, db.codec), db.codec.Name())
	for _, name := range names {
		if !strings.HasPrefix(name, want) {
			continue
		}
		c, ok := codec.ByName(strings.TrimPrefix(name, want))
		if !ok {
			return fmt.Errorf("host image %s: unknown codec", name)
		}
		data, err := blobstore.ReadAll(ctx, db.backend, name)
		if err != nil {
			return fmt.Errorf("read host image: %w", err)
		}
		var img hostImage
		if err := c.Unmarshal(data, &img); err != nil {
			return fmt.Errorf("decode host image: %w", err)
		}
		db.clog = txn.Restore(img.Clog)
		db.table = heap.Restore(img.Table, db.clog)
		return nil
	}
	return fmt.Errorf("checkpoint %d has no host image: %w", gen, blobstore.ErrNotFound)
}

// Close releases the DB. Open transactions can no longer commit.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	err := db.cache.Close()
	db.logger.Info("Database closed")
	return err
}

// shared takes the mutation lock. The returned func releases it.
func (db *DB) shared() (func(), error) {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, ErrClosed
	}
	return db.mu.RUnlock, nil
}

// Snapshot returns a read-only snapshot of everything committed so far.
// Vacuum keeps every version and segment the snapshot can see until
// Release is called on it.
func (db *DB) Snapshot() *Snapshot {
	return db.clog.Acquire(model.InvalidXID)
}

// Logger returns the DB logger.
func (db *DB) Logger() *Logger {
	return db.logger
}

func (db *DB) storeConfig(snap *Snapshot) store.Config {
	return store.Config{
		Catalog:            db.catalog,
		Relation:           db.table,
		Snapshot:           snap,
		StatusSource:       db.clog,
		ResourceController: db.rc,
		Logger:             db.logger.WithComponent("store").Logger,
		Observer:           db.observer,
		SegmentOptions:     db.segOpts,
	}
}

// OpenStore opens a store over the catalog as of snap under mode. A nil
// snap reads everything committed so far and is released when the store
// closes. The caller must Close the store and keep a non-nil snap
// unreleased until then.
func (db *DB) OpenStore(ctx context.Context, snap *Snapshot, mode Mode) (*store.Store, error) {
	release, err := db.shared()
	if err != nil {
		return nil, err
	}
	defer release()

	cfg := db.storeConfig(snap)
	if snap == nil {
		cfg.Snapshot = db.Snapshot()
		cfg.OnClose = cfg.Snapshot.Release
	}
	st, err := store.Open(ctx, cfg, mode)
	if err != nil {
		if cfg.OnClose != nil {
			cfg.OnClose()
		}
		return nil, translateError(err)
	}
	return st, nil
}

// Segments lists every catalog entry, whatever its visibility.
func (db *DB) Segments(ctx context.Context) ([]catalog.SegmentEntry, error) {
	return db.catalog.List(ctx)
}

// CheckpointStats reports what Checkpoint wrote.
type CheckpointStats struct {
	Generation   uint64
	PagesWritten int
	ImagesPruned int
}

// Checkpoint saves the heap, the commit log and every dirty page, then
// publishes them as one generation. Transactions still running are aborted
// in the saved state.
func (db *DB) Checkpoint(ctx context.Context) (CheckpointStats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return CheckpointStats{}, ErrClosed
	}
	if db.backend == nil {
		return CheckpointStats{}, ErrNoBackend
	}

	gen := db.pages.Generation() + 1
	img := hostImage{Clog: db.clog.Image(), Table: db.table.Image()}
	data, err := db.codec.Marshal(&img)
	if err != nil {
		return CheckpointStats{}, fmt.Errorf("encode host image: %w", err)
	}
	name := hostImageName(gen, db.codec)
	if err := db.backend.Put(ctx, name, data); err != nil {
		db.logger.LogCheckpoint(ctx, gen, 0, err)
		return CheckpointStats{}, fmt.Errorf("write host image: %w", err)
	}

	ps, err := db.pages.Checkpoint(ctx)
	if err != nil {
		if derr := db.backend.Delete(ctx, name); derr != nil && !errors.Is(derr, blobstore.ErrNotFound) {
			db.logger.Warn("Failed to delete orphaned host image", "name", name, "error", derr)
		}
		db.logger.LogCheckpoint(ctx, gen, 0, err)
		return CheckpointStats{}, translateError(err)
	}

	stats := CheckpointStats{Generation: ps.Generation, PagesWritten: ps.PagesWritten, ImagesPruned: ps.ImagesPruned}
	names, err := db.backend.List(ctx, hostImagePrefix)
	if err != nil {
		db.logger.Warn("Failed to list host images", "error", err)
	}
	for _, old := range names {
		if old == name {
			continue
		}
		if err := db.backend.Delete(ctx, old); err != nil {
			db.logger.Warn("Failed to prune host image", "name", old, "error", err)
			continue
		}
		stats.ImagesPruned++
	}

	db.logger.LogCheckpoint(ctx, stats.Generation, stats.PagesWritten, nil)
	return stats, nil
}
