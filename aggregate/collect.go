package aggregate

import (
	"context"
	"fmt"

	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/query"
)

// BatchSize is the number of rows checked for visibility at a time.
// Cancellation is checked once per batch.
const BatchSize = 256

// VisibilityFilter keeps the visible subset of row ids, in order.
type VisibilityFilter interface {
	IsVisibleBatch(ctx context.Context, tids []model.RowID) ([]model.RowID, error)
}

// Collect folds the documents of r that match q into p. When filter is nil
// every matching document counts.
func Collect(ctx context.Context, r *segment.Reader, q query.Query, spec Spec, filter VisibilityFilter, p *Partial) error {
	matches, err := r.Search(ctx, q)
	if err != nil {
		return err
	}
	p.Segments++

	docs := make([]uint32, 0, BatchSize)
	tids := make([]model.RowID, 0, BatchSize)

	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.RowsMatched += uint64(len(docs))

		keep := docs
		if filter != nil {
			visible, err := filter.IsVisibleBatch(ctx, tids)
			if err != nil {
				return err
			}
			keep = keepVisible(docs, tids, visible)
		}
		for _, doc := range keep {
			p.add(r, spec, doc)
		}
		p.RowsVisible += uint64(len(keep))

		if spec.MemoryLimit > 0 && p.EstimatedBytes() > spec.MemoryLimit {
			return fmt.Errorf("%w: %d buckets", ErrMemoryLimit, len(p.Buckets))
		}
		docs, tids = docs[:0], tids[:0]
		return nil
	}

	it := matches.Iterator()
	for it.HasNext() {
		doc := it.Next()
		docs = append(docs, doc)
		tids = append(tids, r.RowID(doc))
		if len(docs) == BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if len(docs) > 0 {
		return flush()
	}
	return ctx.Err()
}

// keepVisible returns the docs whose row survived the filter. visible is an
// ordered subsequence of tids.
func keepVisible(docs []uint32, tids, visible []model.RowID) []uint32 {
	out := make([]uint32, 0, len(visible))
	j := 0
	for i, tid := range tids {
		if j < len(visible) && visible[j] == tid {
			out = append(out, docs[i])
			j++
		}
	}
	return out
}

func (p *Partial) add(r *segment.Reader, spec Spec, doc uint32) {
	key := ""
	if spec.GroupBy != "" {
		key, _ = r.Keyword(spec.GroupBy, doc)
	}
	b := p.bucket(key)
	b.DocCount++
	for i, m := range spec.Metrics {
		if m.Kind == MetricCount {
			continue
		}
		if v, ok := r.Numeric(m.Field, doc); ok {
			b.Stats[i].add(v)
		}
	}
}
