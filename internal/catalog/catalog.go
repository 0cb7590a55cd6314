package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// MetaBlock is the block holding the catalog metapage.
const MetaBlock model.BlockNumber = 0

// Catalog manages the segment list stored in a page store.
type Catalog struct {
	pages  *pagestore.Store
	clog   txn.StatusSource
	logger *slog.Logger

	// mu serializes writers against each other and against readers of the
	// list extent, which a commit frees once the metapage moved on.
	mu sync.RWMutex
}

// Open attaches to the catalog in pages, initializing an empty one when the
// store has no blocks yet.
func Open(ctx context.Context, pages *pagestore.Store, clog txn.StatusSource, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Catalog{pages: pages, clog: clog, logger: logger}

	if pages.NumBlocks() == 0 {
		blk, err := pages.Extend(1)
		if err != nil {
			return nil, err
		}
		if blk != MetaBlock {
			return nil, fmt.Errorf("catalog metapage allocated at block %d", blk)
		}
		if err := c.commitLocked(ctx, metapage{}, nil); err != nil {
			return nil, err
		}
		return c, nil
	}

	if _, err := c.readMeta(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Pages returns the underlying page store.
func (c *Catalog) Pages() *pagestore.Store {
	return c.pages
}

// StatusSource returns the commit log entries are evaluated against.
func (c *Catalog) StatusSource() txn.StatusSource {
	return c.clog
}

func (c *Catalog) readMeta(ctx context.Context) (metapage, error) {
	page, err := c.pages.ReadPage(ctx, MetaBlock)
	if err != nil {
		return metapage{}, err
	}
	return decodeMetapage(page)
}

func (c *Catalog) listLocked(ctx context.Context) (metapage, []SegmentEntry, error) {
	meta, err := c.readMeta(ctx)
	if err != nil {
		return metapage{}, nil, err
	}
	if meta.Generation == 0 {
		return meta, nil, nil
	}
	data, err := c.pages.ReadExtent(ctx, meta.List)
	if err != nil {
		return metapage{}, nil, err
	}
	entries, err := decodeList(data)
	if err != nil {
		return metapage{}, nil, err
	}
	return meta, entries, nil
}

// List returns every entry, deleted and uncommitted ones included, in
// commit order.
func (c *Catalog) List(ctx context.Context) ([]SegmentEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, entries, err := c.listLocked(ctx)
	return entries, err
}

// View calls fn with the current list while writers are held off. Pins
// taken inside fn are observed by every later reclamation pass.
func (c *Catalog) View(ctx context.Context, fn func(entries []SegmentEntry) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, entries, err := c.listLocked(ctx)
	if err != nil {
		return err
	}
	return fn(entries)
}

// Get returns the entry for id.
func (c *Catalog) Get(ctx context.Context, id model.SegmentID) (SegmentEntry, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return SegmentEntry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return SegmentEntry{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
}

// Generation returns the number of commits applied to the catalog.
func (c *Catalog) Generation(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, err := c.readMeta(ctx)
	return meta.Generation, err
}

// update applies fn to the current list and commits the result as a new
// list extent.
func (c *Catalog) update(ctx context.Context, fn func(entries []SegmentEntry) ([]SegmentEntry, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, entries, err := c.listLocked(ctx)
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	return c.commitLocked(ctx, meta, next)
}

func (c *Catalog) commitLocked(ctx context.Context, prev metapage, entries []SegmentEntry) error {
	data, err := encodeList(entries)
	if err != nil {
		return fmt.Errorf("encode segment list: %w", err)
	}
	fe, err := c.pages.WriteExtent(ctx, data)
	if err != nil {
		return err
	}
	next := metapage{Generation: prev.Generation + 1, List: fe}
	if err := c.pages.WritePage(ctx, MetaBlock, next.encode()); err != nil {
		_ = c.pages.FreeExtent(fe)
		return err
	}
	if prev.Generation > 0 {
		if err := c.pages.FreeExtent(prev.List); err != nil {
			c.logger.Warn("Failed to free previous segment list", "generation", prev.Generation, "error", err)
		}
	}
	return nil
}

func indexOf(entries []SegmentEntry, id model.SegmentID) int {
	return slices.IndexFunc(entries, func(e SegmentEntry) bool { return e.ID == id })
}

// FlushSegment registers a persisted segment created by xid.
func (c *Catalog) FlushSegment(ctx context.Context, xid model.XID, numDocs uint32, files map[model.Component]model.FileEntry) (model.SegmentID, error) {
	if len(files) == 0 {
		return model.NilSegmentID, fmt.Errorf("flush segment: %w: no component files", ErrWrongKind)
	}
	e := SegmentEntry{
		ID:        model.NewSegmentID(),
		NumDocs:   numDocs,
		XMin:      xid,
		Persisted: &PersistedContent{Files: files},
	}
	err := c.update(ctx, func(entries []SegmentEntry) ([]SegmentEntry, error) {
		return append(entries, e), nil
	})
	if err != nil {
		return model.NilSegmentID, err
	}
	c.logger.Debug("Flushed segment", "segment", e.ID.Short(), "docs", numDocs, "xid", xid)
	return e.ID, nil
}

// StageSegment registers a memory segment over rows, indexed as of snap.
func (c *Catalog) StageSegment(ctx context.Context, xid model.XID, rows []model.RowID, snap *txn.Snapshot) (model.SegmentID, error) {
	if snap == nil {
		return model.NilSegmentID, errors.New("stage segment: missing snapshot")
	}
	id := model.NewSegmentID()
	header, err := c.pages.Extend(1)
	if err != nil {
		return model.NilSegmentID, err
	}
	if err := c.pages.WritePage(ctx, header, id[:]); err != nil {
		_ = c.pages.Free(header, 1)
		return model.NilSegmentID, err
	}

	e := SegmentEntry{
		ID:      id,
		NumDocs: uint32(len(rows)),
		XMin:    xid,
		Memory: &MemoryContent{
			HeaderBlock: header,
			StagedRows:  slices.Clone(rows),
			Snapshot:    snap.Clone(),
		},
	}
	err = c.update(ctx, func(entries []SegmentEntry) ([]SegmentEntry, error) {
		return append(entries, e), nil
	})
	if err != nil {
		_ = c.pages.Free(header, 1)
		return model.NilSegmentID, err
	}
	c.logger.Debug("Staged segment", "segment", id.Short(), "rows", len(rows), "xid", xid)
	return id, nil
}

func (c *Catalog) modify(ctx context.Context, id model.SegmentID, fn func(e *SegmentEntry) error) error {
	return c.update(ctx, func(entries []SegmentEntry) ([]SegmentEntry, error) {
		i := indexOf(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
		}
		if err := fn(&entries[i]); err != nil {
			return nil, err
		}
		return entries, nil
	})
}

// AppendStaged adds rows to an unfrozen memory segment and moves its
// snapshot forward to snap.
func (c *Catalog) AppendStaged(ctx context.Context, id model.SegmentID, rows []model.RowID, snap *txn.Snapshot) error {
	return c.modify(ctx, id, func(e *SegmentEntry) error {
		if e.Memory == nil {
			return fmt.Errorf("append to %s: %w", e.Kind(), ErrWrongKind)
		}
		if e.Memory.Frozen {
			return fmt.Errorf("append to %s: %w", id, ErrSegmentFrozen)
		}
		e.Memory.StagedRows = append(e.Memory.StagedRows, rows...)
		e.NumDocs += uint32(len(rows))
		if snap != nil {
			e.Memory.Snapshot = snap.Clone()
		}
		return nil
	})
}

// FreezeSegment makes a memory segment immutable and therefore mergeable.
func (c *Catalog) FreezeSegment(ctx context.Context, id model.SegmentID) error {
	return c.modify(ctx, id, func(e *SegmentEntry) error {
		if e.Memory == nil {
			return fmt.Errorf("freeze %s: %w", e.Kind(), ErrWrongKind)
		}
		e.Memory.Frozen = true
		return nil
	})
}

// MarkDeleted records xid as the deleter of every segment in ids. The
// entries stay in the list until a reclamation pass drops them.
func (c *Catalog) MarkDeleted(ctx context.Context, xid model.XID, ids ...model.SegmentID) error {
	return c.update(ctx, func(entries []SegmentEntry) ([]SegmentEntry, error) {
		for _, id := range ids {
			i := indexOf(entries, id)
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
			}
			e := &entries[i]
			if e.XMax != model.InvalidXID && c.clog.Status(e.XMax) != txn.StatusAborted {
				return nil, fmt.Errorf("delete %s: %w", id, ErrSegmentDeleted)
			}
			e.XMax = xid
		}
		return entries, nil
	})
}

// SetDeletes replaces the delete component of a persisted segment.
// The previous delete extent, if any, is retired and freed by a later
// Reclaim once no store pins the segment.
func (c *Catalog) SetDeletes(ctx context.Context, id model.SegmentID, fe model.FileEntry, numDeleted uint32) error {
	return c.modify(ctx, id, func(e *SegmentEntry) error {
		if e.Persisted == nil {
			return fmt.Errorf("set deletes on %s: %w", e.Kind(), ErrWrongKind)
		}
		if old, ok := e.Persisted.Files[model.ComponentDelete]; ok {
			e.Persisted.Retired = append(e.Persisted.Retired, old)
		}
		e.Persisted.Files[model.ComponentDelete] = fe
		e.NumDeleted = numDeleted
		return nil
	})
}

// Recyclable reports whether e can be dropped: its deleter (or, for
// segments that never committed, its creator) finished before horizon and
// nobody pins its pin-test location.
func (c *Catalog) Recyclable(e *SegmentEntry, horizon model.XID) bool {
	switch {
	case c.clog.Status(e.XMin) == txn.StatusAborted && e.XMin < horizon:
	case e.XMax != model.InvalidXID && c.clog.Status(e.XMax) == txn.StatusCommitted && e.XMax < horizon:
	default:
		return false
	}
	return c.pages.ConditionalCleanup(e.PinTestBlock())
}

// ReclaimStats reports what a reclamation pass removed.
type ReclaimStats struct {
	Segments int
	Blocks   int
	Skipped  int
	// Retired counts superseded delete extents freed from live segments.
	Retired int
}

// Reclaim drops every recyclable entry and frees its pages. Entries whose
// pin-test location is pinned are skipped and retried by a later pass. The
// retired delete extents of unpinned live entries are freed as well.
func (c *Catalog) Reclaim(ctx context.Context, horizon model.XID) (ReclaimStats, error) {
	var stats ReclaimStats
	var victims []SegmentEntry
	var retired []model.FileEntry

	err := c.update(ctx, func(entries []SegmentEntry) ([]SegmentEntry, error) {
		victims, retired = nil, nil
		kept := entries[:0]
		for _, e := range entries {
			if c.Recyclable(&e, horizon) {
				victims = append(victims, e)
				continue
			}
			if e.XMax != model.InvalidXID && c.clog.Status(e.XMax) == txn.StatusCommitted && e.XMax < horizon {
				stats.Skipped++
			}
			if e.Persisted != nil && len(e.Persisted.Retired) > 0 && c.pages.ConditionalCleanup(e.PinTestBlock()) {
				retired = append(retired, e.Persisted.Retired...)
				e.Persisted.Retired = nil
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	if err != nil {
		return ReclaimStats{}, err
	}

	for _, fe := range retired {
		if err := c.pages.FreeExtent(fe); err != nil {
			c.logger.Warn("Failed to free retired delete component", "error", err)
			continue
		}
		stats.Retired++
		stats.Blocks += pagestore.ExtentBlocks(fe.TotalBytes)
	}

	for _, e := range victims {
		stats.Segments++
		if e.Memory != nil {
			if err := c.pages.Free(e.Memory.HeaderBlock, 1); err != nil {
				c.logger.Warn("Failed to free segment header", "segment", e.ID.Short(), "error", err)
				continue
			}
			stats.Blocks++
			continue
		}
		extents := slices.Collect(maps.Values(e.Persisted.Files))
		for _, fe := range append(extents, e.Persisted.Retired...) {
			if err := c.pages.FreeExtent(fe); err != nil {
				c.logger.Warn("Failed to free segment component", "segment", e.ID.Short(), "error", err)
				continue
			}
			stats.Blocks += pagestore.ExtentBlocks(fe.TotalBytes)
		}
	}
	return stats, nil
}

// ReadComponent reads the bytes of component comp of a persisted segment.
func (c *Catalog) ReadComponent(ctx context.Context, e *SegmentEntry, comp model.Component) ([]byte, error) {
	fe, ok := e.File(comp)
	if !ok {
		return nil, fmt.Errorf("segment %s has no %s component", e.ID.Short(), comp)
	}
	return c.pages.ReadExtent(ctx, fe)
}
