package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mvccindex/aggregate"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/metrics"
	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/query"
	"github.com/hupe1980/mvccindex/store"
)

// StoreOpener opens a fresh store under mode. Every worker calls it once
// and owns the result.
type StoreOpener func(ctx context.Context, mode mvcc.Mode) (*store.Store, error)

// Options configures a Coordinator.
type Options struct {
	Logger             *slog.Logger
	Observer           metrics.Observer
	ResourceController *resource.Controller
	Codec              codec.Codec
	// LeaderParticipation lets the coordinating goroutine take a share of
	// the segments.
	LeaderParticipation bool
}

// Coordinator runs parallel aggregation scans.
type Coordinator struct {
	open StoreOpener
	opts Options
}

// NewCoordinator creates a coordinator whose workers open stores with open.
func NewCoordinator(open StoreOpener, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Codec:               codec.Default,
		LeaderParticipation: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	return &Coordinator{open: open, opts: opts}
}

// RunParallel aggregates q over segments under the snapshot mode with up to
// maxWorkers workers.
func (c *Coordinator) RunParallel(ctx context.Context, q query.Query, spec aggregate.Spec, segments []store.SegmentRef, maxWorkers int) (aggregate.Result, error) {
	return c.Run(ctx, Request{Query: q, Spec: spec, Mode: mvcc.Snapshot(), Segments: segments}, maxWorkers)
}

// Run executes req and returns the merged, finalized result.
func (c *Coordinator) Run(ctx context.Context, req Request, maxWorkers int) (res aggregate.Result, err error) {
	start := time.Now()
	workers := 0
	defer func() {
		c.opts.Observer.OnScan(time.Since(start), len(req.Segments), workers, err)
		if err != nil {
			c.opts.Logger.Error("Parallel scan aborted", "segments", len(req.Segments), "error", err)
		}
	}()

	if err := req.Query.Validate(); err != nil {
		return aggregate.Result{}, err
	}
	if err := req.Spec.Validate(); err != nil {
		return aggregate.Result{}, err
	}
	if err := req.Mode.Validate(); err != nil {
		return aggregate.Result{}, err
	}
	payload, err := c.opts.Codec.Marshal(req)
	if err != nil {
		return aggregate.Result{}, fmt.Errorf("encode request: %w", err)
	}

	total := len(req.Segments)
	var partials []*aggregate.Partial

	nworkers := ComputeWorkers(total, maxWorkers, c.opts.LeaderParticipation)
	ran := false
	if nworkers > 0 && total > 1 {
		partials, workers, ran, err = c.runWorkers(ctx, payload, total, nworkers)
		if err != nil {
			return aggregate.Result{}, err
		}
	}
	if !ran {
		c.opts.Logger.Debug("Running scan sequentially", "segments", total)
		state := NewState(total)
		state.SetLaunched(1)
		workers = 1
		p, err := c.protect(0, func() (*aggregate.Partial, error) {
			return c.work(ctx, state, &req, 0)
		})
		if err != nil {
			state.Drain()
			return aggregate.Result{}, err
		}
		if p != nil {
			partials = append(partials, p)
		}
	}

	merged := aggregate.NewPartial(req.Spec)
	for _, p := range partials {
		if err := merged.Merge(p); err != nil {
			return aggregate.Result{}, err
		}
	}
	return merged.Finalize(req.Spec), nil
}

// runWorkers launches up to nworkers background workers. ran is false when
// none could be admitted.
func (c *Coordinator) runWorkers(ctx context.Context, payload []byte, total, nworkers int) (partials []*aggregate.Partial, workers int, ran bool, err error) {
	launched := 0
	for launched < nworkers && c.opts.ResourceController.TryAcquireWorker() {
		launched++
	}
	if launched == 0 {
		return nil, 0, false, nil
	}
	defer func() {
		for range launched {
			c.opts.ResourceController.ReleaseWorker()
		}
	}()

	state := NewState(total)
	queue := make(chan message, launched)
	g, gctx := errgroup.WithContext(ctx)

	for w := range launched {
		g.Go(func() error {
			p, err := c.protect(w, func() (*aggregate.Partial, error) {
				var req Request
				if err := c.opts.Codec.Unmarshal(payload, &req); err != nil {
					return nil, fmt.Errorf("decode request: %w", err)
				}
				return c.work(gctx, state, &req, w)
			})
			if err != nil {
				state.Drain()
				return err
			}
			if p == nil {
				return nil
			}
			data, err := c.opts.Codec.Marshal(p)
			if err != nil {
				state.Drain()
				return fmt.Errorf("worker %d: encode partial: %w", w, err)
			}
			queue <- message{worker: w, data: data}
			return nil
		})
	}

	workers = launched
	if c.opts.LeaderParticipation {
		workers++
	}
	state.SetLaunched(workers)
	c.opts.Logger.Debug("Launched parallel workers",
		"requested", nworkers,
		"launched", launched,
		"leader", c.opts.LeaderParticipation,
	)

	if c.opts.LeaderParticipation {
		leader := launched
		p, err := c.protect(leader, func() (*aggregate.Partial, error) {
			var req Request
			if err := c.opts.Codec.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("decode request: %w", err)
			}
			return c.work(gctx, state, &req, leader)
		})
		if err != nil {
			state.Drain()
			// A worker fault cancels the leader too; report the fault.
			if werr := g.Wait(); werr != nil {
				err = werr
			}
			return nil, workers, true, err
		}
		if p != nil {
			partials = append(partials, p)
		}
	}

	if err := g.Wait(); err != nil {
		return nil, workers, true, err
	}
	close(queue)

	for msg := range queue {
		var p aggregate.Partial
		if err := c.opts.Codec.Unmarshal(msg.data, &p); err != nil {
			return nil, workers, true, fmt.Errorf("worker %d: decode partial: %w", msg.worker, err)
		}
		partials = append(partials, &p)
	}
	return partials, workers, true, nil
}

// protect runs fn, turning a panic into a WorkerFaultError.
func (c *Coordinator) protect(worker int, fn func() (*aggregate.Partial, error)) (p *aggregate.Partial, err error) {
	defer func() {
		if r := recover(); r != nil {
			fault := &Fault{Worker: worker, Payload: r, Stack: debug.Stack()}
			msg := DescribeFault(fault)
			c.opts.Logger.Warn("Parallel worker fault", "worker", worker, "fault", msg)
			c.opts.Observer.OnWorkerFault(worker)
			p, err = nil, &WorkerFaultError{Worker: worker, Message: msg}
		}
	}()
	return fn()
}

// checkout claims this worker's share of the segments.
func (c *Coordinator) checkout(ctx context.Context, state *State, req *Request, worker int) ([]model.SegmentID, error) {
	n, err := state.WaitLaunched(ctx)
	if err != nil {
		return nil, err
	}
	_, want := ChunkRange(state.Total(), n, worker)

	ids := make([]model.SegmentID, 0, want)
	for len(ids) < want {
		idx, ok := state.Checkout(ctx)
		if !ok {
			break
		}
		ids = append(ids, req.Segments[idx].ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.opts.Observer.OnCheckout(worker, len(ids))
	return ids, nil
}

// work claims segments and folds them into a partial. It returns nil when
// the worker claimed nothing.
func (c *Coordinator) work(ctx context.Context, state *State, req *Request, worker int) (*aggregate.Partial, error) {
	ids, err := c.checkout(ctx, state, req, worker)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	st, err := c.open(ctx, mvcc.ParallelWorkerSubset(req.Mode, ids))
	if err != nil {
		return nil, err
	}
	defer st.Close()

	set, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}

	var filter aggregate.VisibilityFilter
	if set.Rule.NeedsVisibility() && !req.Spec.SkipVisibility {
		oracle := st.NewOracle()
		filter = oracle
		defer func() {
			s := oracle.Stats()
			c.opts.Observer.OnVisibility(s.FastPath, s.SlowPath, s.Missing)
		}()
	}

	p := aggregate.NewPartial(req.Spec)
	for _, id := range ids {
		r, err := st.Reader(ctx, id)
		if errors.Is(err, catalog.ErrSegmentNotFound) {
			c.opts.Logger.Debug("Skipping vanished segment", "worker", worker, "segment", id.Short())
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := aggregate.Collect(ctx, r, req.Query, req.Spec, filter, p); err != nil {
			return nil, fmt.Errorf("segment %s: %w", id.Short(), err)
		}
	}
	c.opts.Logger.Debug("Worker collected segments",
		"worker", worker,
		"segments", len(ids),
		"rows", p.RowsVisible,
	)
	return p, nil
}
