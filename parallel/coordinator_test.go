package parallel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/aggregate"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/metrics"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/query"
	"github.com/hupe1980/mvccindex/store"
	"github.com/hupe1980/mvccindex/testutil"
)

func colorSpec() aggregate.Spec {
	return aggregate.Spec{
		GroupBy: "color",
		Metrics: []aggregate.Metric{
			{Name: "n", Kind: aggregate.MetricCount},
			{Name: "total", Kind: aggregate.MetricSum, Field: "price"},
			{Name: "max", Kind: aggregate.MetricMax, Field: "price"},
		},
	}
}

// harness opens stores over one environment and remembers every worker's
// segment subset.
type harness struct {
	env *testutil.Env
	obs *metrics.BasicObserver

	mu      sync.Mutex
	stores  []*store.Store
	subsets [][]model.SegmentID
	panicOn func(ids []model.SegmentID) bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env, err := testutil.NewEnv(context.Background())
	require.NoError(t, err)
	return &harness{env: env, obs: &metrics.BasicObserver{}}
}

func (h *harness) open(ctx context.Context, mode mvcc.Mode) (*store.Store, error) {
	if h.panicOn != nil && h.panicOn(mode.Segments) {
		panic(&Fault{Payload: "injected failure"})
	}
	st, err := store.Open(ctx, store.Config{
		Catalog:  h.env.Catalog,
		Relation: h.env.Table,
		Snapshot: h.env.Snapshot(),
		Observer: h.obs,
	}, mode)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.stores = append(h.stores, st)
	h.subsets = append(h.subsets, mode.Segments)
	h.mu.Unlock()
	return st, nil
}

// refs loads the snapshot segment list the way a scan entry point does.
func (h *harness) refs(t *testing.T) ([]store.SegmentRef, *store.SegmentSet) {
	t.Helper()
	ctx := context.Background()
	st, err := h.open(ctx, mvcc.Snapshot())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	set, err := st.Load(ctx)
	require.NoError(t, err)
	return set.Refs(), set
}

func (h *harness) coordinator(optFns ...func(o *Options)) *Coordinator {
	fns := append([]func(o *Options){func(o *Options) { o.Observer = h.obs }}, optFns...)
	return NewCoordinator(h.open, fns...)
}

func TestRunParallelMatchesSequential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rng := testutil.NewRNG(1)
	_, err := h.env.Sizes(ctx, rng, 10, 50, 5, 20, 100)
	require.NoError(t, err)
	_, _, err = h.env.StageSegment(ctx, rng.Documents(7))
	require.NoError(t, err)

	refs, _ := h.refs(t)
	c := h.coordinator()

	par, err := c.RunParallel(ctx, query.MatchAll(), colorSpec(), refs, 4)
	require.NoError(t, err)
	seq, err := c.RunParallel(ctx, query.MatchAll(), colorSpec(), refs, 0)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	assert.Equal(t, uint64(192), par.TotalDocs)
	assert.Equal(t, 6, par.Segments)
}

func TestWorkersClaimDisjointSubsets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids, err := h.env.Sizes(ctx, testutil.NewRNG(2), 3, 4, 5, 6, 7, 8)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	h.subsets = nil
	_, err = h.coordinator().RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 3)
	require.NoError(t, err)

	seen := make(map[model.SegmentID]int)
	for _, sub := range h.subsets {
		assert.Len(t, sub, 2)
		for _, id := range sub {
			seen[id]++
		}
	}
	assert.Len(t, seen, len(ids))
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, int64(6), h.obs.CheckedOut.Load())
}

func TestScenarioExpensiveSegmentsClaimedFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rng := testutil.NewRNG(3)
	_, err := h.env.Sizes(ctx, rng, 10, 50, 5, 20, 100)
	require.NoError(t, err)
	mid, _, err := h.env.StageSegment(ctx, rng.Documents(3))
	require.NoError(t, err)

	refs, set := h.refs(t)
	require.Len(t, refs, 6)

	// Three workers claim in turn from the shared state.
	state := NewState(len(refs))
	state.SetLaunched(3)
	var order []model.SegmentID
	for range 3 {
		idx, ok := state.Checkout(ctx)
		require.True(t, ok)
		order = append(order, refs[idx].ID)
	}

	assert.Equal(t, mid, order[0])
	first, _ := set.Get(order[0])
	assert.Equal(t, catalog.KindMemory, first.Kind())
	second, _ := set.Get(order[1])
	assert.Equal(t, uint32(100), second.NumDocs)
	third, _ := set.Get(order[2])
	assert.Equal(t, uint32(50), third.NumDocs)

	// End to end the Memory segment is indexed exactly once.
	h.obs.Materializations.Store(0)
	res, err := h.coordinator().RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(188), res.TotalDocs)
	assert.Equal(t, int64(1), h.obs.Materializations.Load())
}

func TestFallbackWhenNoWorkerAdmitted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.env.Sizes(ctx, testutil.NewRNG(4), 5, 6, 7)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	rc := resource.NewController(resource.Config{MaxParallelWorkers: 1})
	require.True(t, rc.TryAcquireWorker())
	defer rc.ReleaseWorker()

	h.subsets = nil
	c := h.coordinator(func(o *Options) { o.ResourceController = rc })
	res, err := c.RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(18), res.TotalDocs)

	// One inline worker took everything.
	require.Len(t, h.subsets, 1)
	assert.Len(t, h.subsets[0], 3)
	assert.Equal(t, int64(1), rc.ActiveWorkers())
}

func TestWorkerSlotsReleased(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.env.Sizes(ctx, testutil.NewRNG(5), 5, 6, 7, 8)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	rc := resource.NewController(resource.Config{MaxParallelWorkers: 2})
	c := h.coordinator(func(o *Options) { o.ResourceController = rc })
	_, err = c.RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 8)
	require.NoError(t, err)
	assert.Zero(t, rc.ActiveWorkers())
}

func TestVisibilityAppliedByWorkers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rng := testutil.NewRNG(6)
	_, rowsA, err := h.env.FlushSegment(ctx, rng.Documents(10))
	require.NoError(t, err)
	_, rowsB, err := h.env.FlushSegment(ctx, rng.Documents(10))
	require.NoError(t, err)
	require.NoError(t, h.env.Delete(rowsA[0], rowsA[1], rowsB[9]))

	refs, _ := h.refs(t)
	c := h.coordinator(func(o *Options) { o.LeaderParticipation = false })

	res, err := c.RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), res.TotalDocs)
	assert.Positive(t, h.obs.VisibilitySlowPath.Load())

	spec := aggregate.Count()
	spec.SkipVisibility = true
	res, err = c.RunParallel(ctx, query.MatchAll(), spec, refs, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), res.TotalDocs)
}

func TestVacuumModeSkipsRowFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, rows, err := h.env.FlushSegment(ctx, testutil.NewRNG(7).Documents(4))
	require.NoError(t, err)
	require.NoError(t, h.env.Delete(rows[0]))
	refs, _ := h.refs(t)

	res, err := h.coordinator().Run(ctx, Request{
		Query:    query.MatchAll(),
		Spec:     aggregate.Count(),
		Mode:     mvcc.Vacuum(),
		Segments: refs,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.TotalDocs)
}

func TestVanishedSegmentSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.env.Sizes(ctx, testutil.NewRNG(8), 3, 4)
	require.NoError(t, err)
	refs, _ := h.refs(t)
	refs = append([]store.SegmentRef{{ID: model.NewSegmentID()}}, refs...)

	res, err := h.coordinator().RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.TotalDocs)
	assert.Equal(t, 2, res.Segments)
}

func TestWorkerFaultAbortsScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids, err := h.env.Sizes(ctx, testutil.NewRNG(9), 3, 4, 5, 6)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	// The worker that claims the largest segment fails.
	victim := ids[3]
	h.panicOn = func(sub []model.SegmentID) bool {
		for _, id := range sub {
			if id == victim {
				return true
			}
		}
		return false
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := h.coordinator(func(o *Options) { o.Logger = logger })

	_, err = c.RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 2)
	require.ErrorIs(t, err, ErrWorkerFault)
	var wf *WorkerFaultError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, "injected failure", wf.Message)
	assert.Equal(t, int64(1), h.obs.WorkerFaults.Load())

	var warned bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["level"] == "WARN" {
			warned = true
			assert.Equal(t, "Parallel worker fault", rec["msg"])
			assert.Equal(t, "injected failure", rec["fault"])
		}
	}
	assert.True(t, warned)

	// Every worker store released its pins.
	for _, st := range h.stores[1:] {
		assert.Zero(t, st.Pins().Len())
	}
}

func TestSequentialFaultAbortsScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.env.Sizes(ctx, testutil.NewRNG(10), 3)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	h.panicOn = func([]model.SegmentID) bool { return true }
	_, err = h.coordinator().RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 4)
	require.ErrorIs(t, err, ErrWorkerFault)
}

func TestRunCanceled(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.Sizes(context.Background(), testutil.NewRNG(11), 3, 4, 5)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.coordinator().RunParallel(ctx, query.MatchAll(), aggregate.Count(), refs, 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunValidatesRequest(t *testing.T) {
	ctx := context.Background()
	c := newHarness(t).coordinator()

	_, err := c.RunParallel(ctx, query.Query{Kind: "nope"}, aggregate.Count(), nil, 2)
	require.ErrorIs(t, err, query.ErrInvalidQuery)

	_, err = c.RunParallel(ctx, query.MatchAll(), aggregate.Spec{}, nil, 2)
	require.ErrorIs(t, err, aggregate.ErrInvalidSpec)

	_, err = c.Run(ctx, Request{Query: query.MatchAll(), Spec: aggregate.Count(), Mode: mvcc.LargestSegmentOnly()}, 2)
	require.NoError(t, err)

	res, err := c.RunParallel(ctx, query.MatchAll(), aggregate.Count(), nil, 2)
	require.NoError(t, err)
	assert.Zero(t, res.TotalDocs)
}

func TestCodecs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.env.Sizes(ctx, testutil.NewRNG(12), 8, 9, 10)
	require.NoError(t, err)
	refs, _ := h.refs(t)

	var results []aggregate.Result
	for _, cd := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		res, err := h.coordinator(func(o *Options) { o.Codec = cd }).
			RunParallel(ctx, query.Term("body", "index"), colorSpec(), refs, 3)
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0], results[1])
}

func TestFallbackEquivalenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("sequential and parallel results agree", prop.ForAll(
		func(sizes []int, workers int, seed int64) bool {
			ctx := context.Background()
			h := newHarness(t)
			rng := testutil.NewRNG(seed)
			if _, err := h.env.Sizes(ctx, rng, sizes...); err != nil {
				return false
			}
			if _, _, err := h.env.StageSegment(ctx, rng.Documents(5)); err != nil {
				return false
			}
			_, rows, err := h.env.FlushSegment(ctx, rng.Documents(6))
			if err != nil || h.env.Delete(rows[0], rows[3]) != nil {
				return false
			}

			st, err := h.open(ctx, mvcc.Snapshot())
			if err != nil {
				return false
			}
			defer st.Close()
			set, err := st.Load(ctx)
			if err != nil {
				return false
			}

			c := h.coordinator()
			q := query.Or(query.Term("body", "segment"), query.Term("body", "index"))
			par, err := c.RunParallel(ctx, q, colorSpec(), set.Refs(), workers)
			if err != nil {
				return false
			}
			seq, err := c.RunParallel(ctx, q, colorSpec(), set.Refs(), 0)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(seq, par)
		},
		gen.SliceOfN(3, gen.IntRange(1, 30)),
		gen.IntRange(1, 6),
		gen.Int64Range(1, 1000),
	))

	properties.TestingRun(t)
}
