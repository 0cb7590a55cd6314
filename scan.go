package mvccindex

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/mvccindex/aggregate"
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/parallel"
	"github.com/hupe1980/mvccindex/query"
	"github.com/hupe1980/mvccindex/store"
)

// Aggregate evaluates spec over the rows matching q that are visible to
// snap, splitting the segments across parallel workers. A nil snap reads
// everything committed so far.
func (db *DB) Aggregate(ctx context.Context, snap *Snapshot, q query.Query, spec aggregate.Spec) (aggregate.Result, error) {
	if snap == nil {
		snap = db.Snapshot()
		defer snap.Release()
	}
	start := time.Now()
	logger := db.logger.WithScan(uuid.NewString())

	// The leader's store keeps the scanned segments pinned until every
	// worker is done with them.
	st, err := db.OpenStore(ctx, snap, SnapshotMode())
	if err != nil {
		return aggregate.Result{}, err
	}
	defer st.Close()
	set, err := st.Load(ctx)
	if err != nil {
		return aggregate.Result{}, translateError(err)
	}

	coord := parallel.NewCoordinator(func(ctx context.Context, mode mvcc.Mode) (*store.Store, error) {
		return store.Open(ctx, db.storeConfig(snap), mode)
	}, func(o *parallel.Options) {
		o.Logger = logger.WithComponent("parallel").Logger
		o.Observer = db.observer
		o.ResourceController = db.rc
		o.Codec = db.codec
		o.LeaderParticipation = db.cfg.LeaderParticipation
	})

	res, err := coord.RunParallel(ctx, q, spec, set.Refs(), db.cfg.MaxParallelWorkers)
	logger.LogScan(ctx, set.Len(), int(res.TotalDocs), time.Since(start), err)
	if err != nil {
		return aggregate.Result{}, translateError(err)
	}
	return res, nil
}

// Count returns the number of visible rows matching q.
func (db *DB) Count(ctx context.Context, snap *Snapshot, q query.Query) (uint64, error) {
	res, err := db.Aggregate(ctx, snap, q, aggregate.Count())
	if err != nil {
		return 0, err
	}
	return res.TotalDocs, nil
}

// Search returns the visible rows matching q, ordered by row id.
func (db *DB) Search(ctx context.Context, snap *Snapshot, q query.Query) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	st, err := db.OpenStore(ctx, snap, SnapshotMode())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	set, err := st.Load(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	oracle := st.NewOracle()
	var hits []Hit
	for _, id := range set.IDs() {
		r, err := st.Reader(ctx, id)
		if errors.Is(err, catalog.ErrSegmentNotFound) {
			continue
		}
		if err != nil {
			return nil, translateError(err)
		}
		matches, err := r.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		it := matches.Iterator()
		for it.HasNext() {
			tid := r.RowID(it.Next())
			item, at, ok, err := oracle.Lookup(ctx, tid)
			if err != nil {
				return nil, err
			}
			if ok {
				hits = append(hits, Hit{Segment: id, Row: tid, Version: at, Document: item.Doc})
			}
		}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Row.Uint64(), b.Row.Uint64())
	})
	return hits, nil
}
