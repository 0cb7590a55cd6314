package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/pin"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/internal/segment"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/internal/visibility"
	"github.com/hupe1980/mvccindex/metrics"
	"github.com/hupe1980/mvccindex/model"
)

// Config wires a Store to its collaborators.
type Config struct {
	Catalog  *catalog.Catalog
	Relation heap.Relation
	// Snapshot governs segment and row visibility.
	Snapshot *txn.Snapshot
	// StatusSource defaults to the catalog's.
	StatusSource       txn.StatusSource
	ResourceController *resource.Controller
	Logger             *slog.Logger
	Observer           metrics.Observer
	SegmentOptions     []func(o *segment.Options)
	// OnClose runs once when the store closes, after its pins are released.
	OnClose func()
}

// Store is one scan's view of the index.
type Store struct {
	cfg  Config
	mode mvcc.Mode
	pins *pin.Set

	loadOnce sync.Once
	set      *SegmentSet
	loadErr  error

	mu        sync.Mutex
	closed    bool
	ephemeral map[model.SegmentID]*ephemeral
}

// ephemeral is the lazily built index of a Memory segment.
type ephemeral struct {
	once  sync.Once
	built atomic.Bool
	data  *segment.Data
	bytes int64
	err   error
}

// Open creates a store resolving segments under mode. Nothing is read until
// the first Load.
func Open(ctx context.Context, cfg Config, mode mvcc.Mode) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Catalog == nil {
		return nil, errors.New("store: catalog is required")
	}
	if cfg.Relation == nil {
		return nil, errors.New("store: relation is required")
	}
	if cfg.Snapshot == nil {
		return nil, errors.New("store: snapshot is required")
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if cfg.StatusSource == nil {
		cfg.StatusSource = cfg.Catalog.StatusSource()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}

	return &Store{
		cfg:       cfg,
		mode:      mode,
		pins:      pin.NewSet(cfg.Catalog.Pages()),
		ephemeral: make(map[model.SegmentID]*ephemeral),
	}, nil
}

// Mode returns the mode the store resolves.
func (s *Store) Mode() mvcc.Mode {
	return s.mode
}

// Snapshot returns the snapshot governing the store.
func (s *Store) Snapshot() *txn.Snapshot {
	return s.cfg.Snapshot
}

// NewOracle returns a visibility cursor bound to the store's relation and
// snapshot. Every caller gets its own.
func (s *Store) NewOracle(optFns ...func(o *visibility.Options)) *visibility.Oracle {
	return visibility.New(s.cfg.Relation, s.cfg.Snapshot, s.cfg.StatusSource, optFns...)
}

// Pins returns the store's pin set.
func (s *Store) Pins() *pin.Set {
	return s.pins
}

// Load resolves, orders and pins the eligible segments. The first call does
// the work; later calls return the same set, or the same error.
func (s *Store) Load(ctx context.Context) (*SegmentSet, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.loadOnce.Do(func() {
		s.set, s.loadErr = s.load(ctx)
	})
	return s.set, s.loadErr
}

func (s *Store) load(ctx context.Context) (*SegmentSet, error) {
	var set *SegmentSet

	// Pins are taken while the catalog holds off writers so a concurrent
	// reclamation pass either ran before the listing or sees the pins.
	err := s.cfg.Catalog.View(ctx, func(entries []catalog.SegmentEntry) error {
		res, err := mvcc.Resolve(s.mode, entries, s.cfg.Snapshot, s.cfg.StatusSource)
		if err != nil {
			return err
		}
		for i := range res.Entries {
			res.Entries[i] = res.Entries[i].Clone()
		}
		slices.SortFunc(res.Entries, func(a, b catalog.SegmentEntry) int {
			return CompareCost(&a, &b)
		})

		for i := range res.Entries {
			blk := res.Entries[i].PinTestBlock()
			if blk == model.InvalidBlockNumber {
				continue
			}
			if err := s.pins.Pin(blk); err != nil {
				s.pins.ReleaseAll()
				return fmt.Errorf("pin segment %s: %w", res.Entries[i].ID.Short(), err)
			}
		}
		set = newSegmentSet(s.mode, res, s.cfg.Snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		s.pins.ReleaseAll()
		return nil, ErrClosed
	}

	s.cfg.Logger.Debug("Loaded segments",
		"mode", s.mode.String(),
		"segments", set.Len(),
		"pins", s.pins.Len(),
	)
	return set, nil
}

// Open returns a handle on component comp of segment id. Ids outside the
// loaded set report catalog.ErrSegmentNotFound.
func (s *Store) Open(ctx context.Context, id model.SegmentID, comp model.Component) (segment.Handle, error) {
	set, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := set.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrSegmentNotFound, id)
	}

	if e.Kind() == catalog.KindPersisted {
		fe, ok := e.File(comp)
		if !ok {
			return nil, fmt.Errorf("%w: %s of %s", segment.ErrNoComponent, comp, id.Short())
		}
		return s.cfg.Catalog.Pages().NewExtentReader(fe), nil
	}

	d, err := s.materialize(ctx, e)
	if err != nil {
		return nil, err
	}
	b, ok := d.Components[comp]
	if !ok {
		return nil, fmt.Errorf("%w: %s of %s", segment.ErrNoComponent, comp, id.Short())
	}
	return segment.BytesHandle(b), nil
}

// Reader opens a segment reader over id.
func (s *Store) Reader(ctx context.Context, id model.SegmentID) (*segment.Reader, error) {
	open := func(ctx context.Context, comp model.Component) (segment.Handle, error) {
		return s.Open(ctx, id, comp)
	}
	return segment.Open(ctx, open, s.cfg.SegmentOptions...)
}

// AllSegments returns every segment in the catalog, whatever the mode.
func (s *Store) AllSegments(ctx context.Context) (map[model.SegmentID]catalog.SegmentEntry, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	entries, err := s.cfg.Catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[model.SegmentID]catalog.SegmentEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out, nil
}

// Materialized reports whether the Memory segment id has been indexed by
// this store.
func (s *Store) Materialized(id model.SegmentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	eph, ok := s.ephemeral[id]
	return ok && eph.built.Load()
}

func (s *Store) materialize(ctx context.Context, e *catalog.SegmentEntry) (*segment.Data, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	eph := s.ephemeral[e.ID]
	if eph == nil {
		eph = &ephemeral{}
		s.ephemeral[e.ID] = eph
	}
	s.mu.Unlock()

	eph.once.Do(func() {
		start := time.Now()
		var rows int
		rows, eph.data, eph.err = s.build(ctx, e)
		if eph.err == nil {
			eph.bytes = eph.data.Size()
			if err := s.cfg.ResourceController.AcquireMemory(eph.bytes); err != nil {
				eph.data, eph.bytes, eph.err = nil, 0, err
			}
		}
		if eph.err != nil {
			eph.err = &MaterializeError{SegmentID: e.ID, Cause: eph.err}
		}
		s.cfg.Observer.OnMaterialize(time.Since(start), rows, eph.err)
		eph.built.Store(eph.err == nil)
	})
	return eph.data, eph.err
}

// build indexes the staged rows of e visible to the snapshot captured in the
// entry. Rows that vanished from the heap are left out.
func (s *Store) build(ctx context.Context, e *catalog.SegmentEntry) (int, *segment.Data, error) {
	mem := e.Memory
	if mem.Snapshot == nil {
		return 0, nil, errors.New("memory segment has no snapshot")
	}
	b, err := segment.NewBuilder(s.cfg.SegmentOptions...)
	if err != nil {
		return 0, nil, err
	}

	oracle := visibility.New(s.cfg.Relation, mem.Snapshot, s.cfg.StatusSource)
	for _, tid := range mem.StagedRows {
		item, _, ok, err := oracle.Lookup(ctx, tid)
		if err != nil {
			return b.Len(), nil, err
		}
		if ok {
			b.Add(tid, item.Doc)
		}
	}

	d, err := b.Build(ctx)
	if err != nil {
		return b.Len(), nil, err
	}
	if missing := oracle.Missing(); len(missing) > 0 {
		s.cfg.Logger.Debug("Staged rows missing from heap",
			"segment", e.ID.Short(),
			"rows", len(missing),
		)
	}
	s.cfg.Logger.Debug("Materialized segment",
		"segment", e.ID.Short(),
		"staged", len(mem.StagedRows),
		"indexed", b.Len(),
		"bytes", d.Size(),
	)
	return b.Len(), d, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases every pin and the memory of materialized segments. It is
// safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	eph := s.ephemeral
	s.ephemeral = nil
	s.mu.Unlock()

	var freed int64
	for _, e := range eph {
		// Waits for a build still in flight.
		e.once.Do(func() {})
		freed += e.bytes
	}
	s.cfg.ResourceController.ReleaseMemory(freed)

	released := s.pins.ReleaseAll()
	if s.cfg.OnClose != nil {
		s.cfg.OnClose()
	}
	s.cfg.Logger.Debug("Closed store", "pins", released, "materialized", len(eph))
	return nil
}
