package mvccindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/store"
)

// VacuumStats reports what a vacuum pass did.
type VacuumStats struct {
	// Horizon is the oldest xid any running transaction or unreleased
	// snapshot may still need.
	Horizon           XID
	PrunedVersions    int
	AllVisibleBlocks  int
	DeletedDocs       int
	ReclaimedSegments int
	ReclaimedBlocks   int
	// SkippedSegments were deleted but still pinned by a running scan.
	SkippedSegments int
	// FreedDeleteExtents are superseded delete bitmaps no scan reads any more.
	FreedDeleteExtents int
}

// Vacuum removes what no snapshot can see any more:
//   - heap versions dead below the horizon are pruned,
//   - blocks whose rows are all visible get their visibility-map bit,
//   - index entries of pruned rows are recorded in segment delete bitmaps,
//   - deleted segments nobody pins are dropped and their pages freed.
func (db *DB) Vacuum(ctx context.Context) (VacuumStats, error) {
	release, err := db.shared()
	if err != nil {
		return VacuumStats{}, err
	}
	defer release()

	stats, err := db.vacuum(ctx)
	db.logger.LogReclaim(ctx, stats, err)
	return stats, translateError(err)
}

func (db *DB) vacuum(ctx context.Context) (VacuumStats, error) {
	stats := VacuumStats{Horizon: db.clog.OldestActive()}

	var err error
	if stats.PrunedVersions, err = db.table.Prune(ctx, stats.Horizon); err != nil {
		return stats, fmt.Errorf("prune: %w", err)
	}
	if stats.AllVisibleBlocks, err = db.table.MarkAllVisible(ctx, stats.Horizon); err != nil {
		return stats, fmt.Errorf("mark all-visible: %w", err)
	}
	if stats.DeletedDocs, err = db.deleteDeadDocs(ctx); err != nil {
		return stats, fmt.Errorf("delete dead index entries: %w", err)
	}

	rs, err := db.catalog.Reclaim(ctx, stats.Horizon)
	if err != nil {
		return stats, fmt.Errorf("reclaim: %w", err)
	}
	stats.ReclaimedSegments = rs.Segments
	stats.ReclaimedBlocks = rs.Blocks
	stats.SkippedSegments = rs.Skipped
	stats.FreedDeleteExtents = rs.Retired
	return stats, nil
}

// deleteDeadDocs marks the documents of live persisted segments whose heap
// row was pruned.
func (db *DB) deleteDeadDocs(ctx context.Context) (int, error) {
	snap := db.Snapshot()
	defer snap.Release()
	st, err := store.Open(ctx, db.storeConfig(snap), VacuumMode())
	if err != nil {
		return 0, err
	}
	defer st.Close()
	set, err := st.Load(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range set.Entries {
		e := &set.Entries[i]
		if e.Kind() != catalog.KindPersisted || e.XMax != model.InvalidXID {
			continue
		}
		r, err := st.Reader(ctx, e.ID)
		if errors.Is(err, catalog.ErrSegmentNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}

		deleted := r.Deleted()
		added := 0
		for doc := range r.NumDocs() {
			if deleted.Contains(doc) {
				continue
			}
			_, err := db.table.Fetch(ctx, r.RowID(doc))
			switch {
			case errors.Is(err, heap.ErrRowNotFound):
				deleted.Add(doc)
				added++
			case err != nil:
				return total, err
			}
		}
		if added == 0 {
			continue
		}

		data, err := segment.EncodeDeletes(deleted)
		if err != nil {
			return total, err
		}
		fe, err := db.pages.WriteExtent(ctx, data)
		if err != nil {
			return total, err
		}
		if err := db.catalog.SetDeletes(ctx, e.ID, fe, uint32(deleted.GetCardinality())); err != nil {
			_ = db.pages.FreeExtent(fe)
			return total, err
		}
		db.logger.WithSegment(e.ID).DebugContext(ctx, "Recorded dead documents", "docs", added)
		total += added
	}
	return total, nil
}
