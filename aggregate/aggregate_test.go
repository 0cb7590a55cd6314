package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/internal/visibility"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/query"
)

func priceSpec() Spec {
	return Spec{
		GroupBy: "lang",
		Metrics: []Metric{
			{Name: "n", Kind: MetricCount},
			{Name: "total", Kind: MetricSum, Field: "price"},
			{Name: "cheapest", Kind: MetricMin, Field: "price"},
			{Name: "priciest", Kind: MetricMax, Field: "price"},
			{Name: "mean", Kind: MetricAvg, Field: "price"},
		},
	}
}

type fixture struct {
	clog  *txn.Manager
	table *heap.Table
	rows  []model.RowID
	r     *segment.Reader
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ctx := context.Background()
	clog := txn.NewManager()
	table := heap.NewTable(1, clog, heap.WithItemsPerBlock(8))

	xid := clog.Begin()
	b, err := segment.NewBuilder()
	require.NoError(t, err)

	f := &fixture{clog: clog, table: table}
	for i := 0; i < n; i++ {
		doc := model.Document{
			Text:    map[string]string{"title": "item"},
			Keyword: map[string]string{"lang": []string{"en", "de", "fr"}[i%3]},
			Numeric: map[string]float64{"price": float64(i)},
		}
		tid := table.Insert(xid, doc)
		f.rows = append(f.rows, tid)
		b.Add(tid, doc)
	}
	require.NoError(t, clog.Commit(xid))

	d, err := b.Build(ctx)
	require.NoError(t, err)
	f.r, err = segment.Open(ctx, segment.DataOpener(d))
	require.NoError(t, err)
	return f
}

func TestSpecValidate(t *testing.T) {
	require.NoError(t, Count().Validate())
	require.NoError(t, priceSpec().Validate())

	bad := []Spec{
		{},
		{Metrics: []Metric{{Kind: MetricCount}}},
		{Metrics: []Metric{{Name: "a", Kind: MetricSum}}},
		{Metrics: []Metric{{Name: "a", Kind: "median", Field: "x"}}},
		{Metrics: []Metric{{Name: "a", Kind: MetricCount}, {Name: "a", Kind: MetricCount}}},
		{Metrics: []Metric{{Name: "a", Kind: MetricCount}}, BucketLimit: -1},
	}
	for i, s := range bad {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSpec, "case %d", i)
	}
}

func TestCollectWithoutFilter(t *testing.T) {
	f := newFixture(t, 9)
	spec := priceSpec()
	p := NewPartial(spec)

	require.NoError(t, Collect(context.Background(), f.r, query.MatchAll(), spec, nil, p))
	assert.Equal(t, 1, p.Segments)
	assert.Equal(t, uint64(9), p.RowsMatched)
	assert.Equal(t, uint64(9), p.RowsVisible)

	res := p.Finalize(spec)
	require.Len(t, res.Buckets, 3)
	assert.Equal(t, uint64(9), res.TotalDocs)

	// Equal counts order by key.
	assert.Equal(t, "de", res.Buckets[0].Key)
	en := res.Buckets[1]
	assert.Equal(t, "en", en.Key)
	assert.Equal(t, float64(3), en.Values["n"])
	assert.Equal(t, float64(0+3+6), en.Values["total"])
	assert.Equal(t, float64(0), en.Values["cheapest"])
	assert.Equal(t, float64(6), en.Values["priciest"])
	assert.Equal(t, float64(3), en.Values["mean"])
}

func TestCollectFiltersInvisibleRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)

	del := f.clog.Begin()
	require.NoError(t, f.table.Delete(del, f.rows[0]))
	require.NoError(t, f.table.Delete(del, f.rows[4]))
	require.NoError(t, f.clog.Commit(del))

	spec := Count()
	oracle := visibility.New(f.table, f.clog.Snapshot(model.InvalidXID), f.clog)
	p := NewPartial(spec)
	require.NoError(t, Collect(ctx, f.r, query.MatchAll(), spec, oracle, p))

	assert.Equal(t, uint64(6), p.RowsMatched)
	assert.Equal(t, uint64(4), p.RowsVisible)
	res := p.Finalize(spec)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, "", res.Buckets[0].Key)
	assert.Equal(t, float64(4), res.Buckets[0].Values["count"])
}

func TestCollectSpansBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BatchSize*2+7)

	del := f.clog.Begin()
	require.NoError(t, f.table.Delete(del, f.rows[BatchSize+1]))
	require.NoError(t, f.clog.Commit(del))

	spec := Count()
	p := NewPartial(spec)
	oracle := visibility.New(f.table, f.clog.Snapshot(model.InvalidXID), f.clog)
	require.NoError(t, Collect(ctx, f.r, query.Term("title", "item"), spec, oracle, p))
	assert.Equal(t, uint64(BatchSize*2+6), p.RowsVisible)
}

func TestCollectCanceled(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spec := Count()
	err := Collect(ctx, f.r, query.MatchAll(), spec, nil, NewPartial(spec))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectMemoryLimit(t *testing.T) {
	f := newFixture(t, 9)
	spec := priceSpec()
	spec.MemoryLimit = 64

	err := Collect(context.Background(), f.r, query.MatchAll(), spec, nil, NewPartial(spec))
	require.ErrorIs(t, err, ErrMemoryLimit)
}

func TestFinalizeBucketLimit(t *testing.T) {
	spec := Spec{GroupBy: "k", BucketLimit: 2, Metrics: []Metric{{Name: "n", Kind: MetricCount}}}
	p := NewPartial(spec)
	for key, n := range map[string]int{"a": 1, "b": 5, "c": 5, "d": 2} {
		for range n {
			p.bucket(key).DocCount++
		}
	}

	res := p.Finalize(spec)
	require.Len(t, res.Buckets, 2)
	assert.Equal(t, "b", res.Buckets[0].Key)
	assert.Equal(t, "c", res.Buckets[1].Key)
	assert.Equal(t, uint64(13), res.TotalDocs)
}

func TestFinalizeEmptyStats(t *testing.T) {
	spec := priceSpec()
	p := NewPartial(spec)
	p.bucket("x").DocCount = 2

	res := p.Finalize(spec)
	require.Len(t, res.Buckets, 1)
	v := res.Buckets[0].Values
	assert.Equal(t, float64(2), v["n"])
	assert.Equal(t, float64(0), v["total"])
	assert.NotContains(t, v, "cheapest")
	assert.NotContains(t, v, "mean")
}

func TestPartialJSON(t *testing.T) {
	f := newFixture(t, 5)
	spec := priceSpec()
	p := NewPartial(spec)
	require.NoError(t, Collect(context.Background(), f.r, query.MatchAll(), spec, nil, p))

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back Partial
	require.NoError(t, json.Unmarshal(data, &back))

	merged := NewPartial(spec)
	require.NoError(t, merged.Merge(&back))
	assert.Equal(t, p.Finalize(spec), merged.Finalize(spec))
}

func TestMergeRejectsShapeMismatch(t *testing.T) {
	a := NewPartial(priceSpec())
	b := NewPartial(Count())
	b.bucket("x").DocCount = 1
	require.Error(t, a.Merge(b))
}

func partialOf(spec Spec, values []int) *Partial {
	p := NewPartial(spec)
	p.Segments = 1
	for _, v := range values {
		b := p.bucket(fmt.Sprint(v % 4))
		b.DocCount++
		for i, m := range spec.Metrics {
			if m.Kind != MetricCount {
				b.Stats[i].add(float64(v))
			}
		}
		p.RowsMatched++
		p.RowsVisible++
	}
	return p
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	spec := priceSpec()
	values := gen.SliceOf(gen.IntRange(-1000, 1000))

	properties.Property("merge is commutative", prop.ForAll(
		func(a, b []int) bool {
			ab := partialOf(spec, a)
			if ab.Merge(partialOf(spec, b)) != nil {
				return false
			}
			ba := partialOf(spec, b)
			if ba.Merge(partialOf(spec, a)) != nil {
				return false
			}
			return assert.ObjectsAreEqual(ab.Finalize(spec), ba.Finalize(spec))
		},
		values, values,
	))

	properties.Property("merge is associative", prop.ForAll(
		func(a, b, c []int) bool {
			left := partialOf(spec, a)
			if left.Merge(partialOf(spec, b)) != nil || left.Merge(partialOf(spec, c)) != nil {
				return false
			}
			bc := partialOf(spec, b)
			if bc.Merge(partialOf(spec, c)) != nil {
				return false
			}
			right := partialOf(spec, a)
			if right.Merge(bc) != nil {
				return false
			}
			return assert.ObjectsAreEqual(left.Finalize(spec), right.Finalize(spec))
		},
		values, values, values,
	))

	properties.Property("merge equals single pass", prop.ForAll(
		func(a, b []int) bool {
			merged := partialOf(spec, a)
			if merged.Merge(partialOf(spec, b)) != nil {
				return false
			}
			whole := partialOf(spec, append(append([]int{}, a...), b...))
			whole.Segments = 2
			return assert.ObjectsAreEqual(whole.Finalize(spec), merged.Finalize(spec))
		},
		values, values,
	))

	properties.TestingRun(t)
}
