package testutil

import (
	"context"
	"fmt"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// Env is an in-memory index with its host collaborators.
type Env struct {
	Clog    *txn.Manager
	Table   *heap.Table
	Pages   *pagestore.Store
	Catalog *catalog.Catalog
}

// NewEnv creates an empty environment.
func NewEnv(ctx context.Context, optFns ...heap.Option) (*Env, error) {
	clog := txn.NewManager()
	pages := pagestore.New()
	cat, err := catalog.Open(ctx, pages, clog, nil)
	if err != nil {
		return nil, err
	}
	return &Env{
		Clog:    clog,
		Table:   heap.NewTable(1, clog, optFns...),
		Pages:   pages,
		Catalog: cat,
	}, nil
}

// Snapshot returns a snapshot of everything committed so far.
func (e *Env) Snapshot() *txn.Snapshot {
	return e.Clog.Snapshot(model.InvalidXID)
}

// Insert stores docs in one committed transaction.
func (e *Env) Insert(docs []model.Document) ([]model.RowID, error) {
	xid := e.Clog.Begin()
	rows := make([]model.RowID, len(docs))
	for i, d := range docs {
		rows[i] = e.Table.Insert(xid, d)
	}
	return rows, e.Clog.Commit(xid)
}

// Delete removes rows in one committed transaction.
func (e *Env) Delete(rows ...model.RowID) error {
	xid := e.Clog.Begin()
	for _, tid := range rows {
		if err := e.Table.Delete(xid, tid); err != nil {
			_ = e.Clog.Abort(xid)
			return err
		}
	}
	return e.Clog.Commit(xid)
}

// FlushSegment inserts docs and registers a persisted segment over them,
// all in one committed transaction.
func (e *Env) FlushSegment(ctx context.Context, docs []model.Document) (model.SegmentID, []model.RowID, error) {
	xid := e.Clog.Begin()
	b, err := segment.NewBuilder()
	if err != nil {
		return model.NilSegmentID, nil, err
	}
	rows := make([]model.RowID, len(docs))
	for i, d := range docs {
		rows[i] = e.Table.Insert(xid, d)
		b.Add(rows[i], d)
	}

	data, err := b.Build(ctx)
	if err != nil {
		return model.NilSegmentID, nil, err
	}
	files, err := segment.Write(ctx, e.Pages, data)
	if err != nil {
		return model.NilSegmentID, nil, err
	}
	id, err := e.Catalog.FlushSegment(ctx, xid, data.NumDocs, files)
	if err != nil {
		return model.NilSegmentID, nil, err
	}
	return id, rows, e.Clog.Commit(xid)
}

// StageSegment inserts docs in a committed transaction and registers a
// Memory segment over them as of the following snapshot.
func (e *Env) StageSegment(ctx context.Context, docs []model.Document) (model.SegmentID, []model.RowID, error) {
	rows, err := e.Insert(docs)
	if err != nil {
		return model.NilSegmentID, nil, err
	}
	xid := e.Clog.Begin()
	id, err := e.Catalog.StageSegment(ctx, xid, rows, e.Clog.Snapshot(xid))
	if err != nil {
		_ = e.Clog.Abort(xid)
		return model.NilSegmentID, nil, err
	}
	return id, rows, e.Clog.Commit(xid)
}

// Sizes flushes one persisted segment per size, filled from rng.
func (e *Env) Sizes(ctx context.Context, rng *RNG, sizes ...int) ([]model.SegmentID, error) {
	ids := make([]model.SegmentID, 0, len(sizes))
	for _, n := range sizes {
		id, _, err := e.FlushSegment(ctx, rng.Documents(n))
		if err != nil {
			return nil, fmt.Errorf("flush segment of %d: %w", n, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
