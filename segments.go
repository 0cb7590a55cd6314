package mvccindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/store"
)

// FlushSegment inserts docs as rows of tx and indexes them into a persisted
// segment that becomes visible when tx commits.
func (db *DB) FlushSegment(ctx context.Context, tx *Tx, docs []Document) (SegmentID, []RowID, error) {
	var id SegmentID
	var rows []RowID
	err := tx.run(func() error {
		b, err := segment.NewBuilder(db.segOpts...)
		if err != nil {
			return err
		}
		rows = make([]RowID, len(docs))
		for i, d := range docs {
			rows[i] = db.table.Insert(tx.xid, d)
			b.Add(rows[i], d)
		}
		id, err = db.writeSegment(ctx, tx.xid, b)
		return err
	})
	db.logger.LogFlush(ctx, catalog.KindPersisted.String(), id, len(docs), err)
	if err != nil {
		return model.NilSegmentID, nil, translateError(err)
	}
	return id, rows, nil
}

// writeSegment builds b and registers it as a persisted segment of xid.
func (db *DB) writeSegment(ctx context.Context, xid XID, b *segment.Builder) (SegmentID, error) {
	data, err := b.Build(ctx)
	if err != nil {
		return model.NilSegmentID, err
	}
	files, err := segment.Write(ctx, db.pages, data)
	if err != nil {
		return model.NilSegmentID, err
	}
	id, err := db.catalog.FlushSegment(ctx, xid, data.NumDocs, files)
	if err != nil {
		for _, fe := range files {
			_ = db.pages.FreeExtent(fe)
		}
		return model.NilSegmentID, err
	}
	return id, nil
}

// StageSegment inserts docs as rows of tx and registers them in a Memory
// segment. Scans index a Memory segment on demand as of tx's snapshot.
func (db *DB) StageSegment(ctx context.Context, tx *Tx, docs []Document) (SegmentID, []RowID, error) {
	var id SegmentID
	var rows []RowID
	err := tx.run(func() error {
		rows = make([]RowID, len(docs))
		for i, d := range docs {
			rows[i] = db.table.Insert(tx.xid, d)
		}
		var err error
		id, err = db.catalog.StageSegment(ctx, tx.xid, rows, tx.snap)
		return err
	})
	db.logger.LogFlush(ctx, catalog.KindMemory.String(), id, len(docs), err)
	if err != nil {
		return model.NilSegmentID, nil, translateError(err)
	}
	return id, rows, nil
}

// AppendStaged inserts docs as rows of tx and adds them to the unfrozen
// Memory segment id.
func (db *DB) AppendStaged(ctx context.Context, tx *Tx, id SegmentID, docs []Document) ([]RowID, error) {
	var rows []RowID
	err := tx.run(func() error {
		rows = make([]RowID, len(docs))
		for i, d := range docs {
			rows[i] = db.table.Insert(tx.xid, d)
		}
		return db.catalog.AppendStaged(ctx, id, rows, tx.snap)
	})
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

// FreezeSegment stops a Memory segment from accepting rows, making it
// eligible for MergeSegments.
func (db *DB) FreezeSegment(ctx context.Context, id SegmentID) error {
	release, err := db.shared()
	if err != nil {
		return err
	}
	defer release()
	return translateError(db.catalog.FreezeSegment(ctx, id))
}

// MergeSegments indexes the visible rows of ids into one new persisted
// segment and deletes the inputs, atomically in one transaction. Inputs must
// be Mergeable: persisted, or frozen Memory segments.
func (db *DB) MergeSegments(ctx context.Context, ids ...SegmentID) (SegmentID, error) {
	if len(ids) == 0 {
		return model.NilSegmentID, fmt.Errorf("merge: no segments")
	}
	tx, err := db.Begin()
	if err != nil {
		return model.NilSegmentID, err
	}

	var out SegmentID
	docs := 0
	err = tx.run(func() error {
		st, err := store.Open(ctx, db.storeConfig(tx.snap), MergeableMode())
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := st.Load(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := set.Get(id); ok {
				continue
			}
			if _, err := db.catalog.Get(ctx, id); errors.Is(err, catalog.ErrSegmentNotFound) {
				return err
			}
			return fmt.Errorf("%w: %s", ErrNotMergeable, id.Short())
		}

		b, err := segment.NewBuilder(db.segOpts...)
		if err != nil {
			return err
		}
		oracle := st.NewOracle()
		for _, id := range ids {
			r, err := st.Reader(ctx, id)
			if err != nil {
				return err
			}
			for doc := range r.NumDocs() {
				if doc%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if r.IsDeleted(doc) {
					continue
				}
				tid := r.RowID(doc)
				item, _, ok, err := oracle.Lookup(ctx, tid)
				if err != nil {
					return err
				}
				if ok {
					b.Add(tid, item.Doc)
				}
			}
		}
		docs = b.Len()

		if out, err = db.writeSegment(ctx, tx.xid, b); err != nil {
			return err
		}
		return db.catalog.MarkDeleted(ctx, tx.xid, ids...)
	})
	if err == nil {
		err = tx.Commit()
	} else {
		_ = tx.Abort()
	}
	db.logger.LogMerge(ctx, len(ids), out, docs, err)
	if err != nil {
		return model.NilSegmentID, translateError(err)
	}
	return out, nil
}
