package visibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// DefaultMaxChainLength bounds update-chain walks.
const DefaultMaxChainLength = 1024

// ErrChainTooLong is returned when a version chain exceeds the hop limit,
// which only happens on a corrupted chain.
var ErrChainTooLong = errors.New("version chain too long")

// State is the cursor state.
type State uint8

const (
	StateIdle State = iota
	StateProbing
)

func (s State) String() string {
	if s == StateProbing {
		return "probing"
	}
	return "idle"
}

// Stats counts oracle work.
type Stats struct {
	FastPath  uint64
	SlowPath  uint64
	ChainHops uint64
	Missing   uint64
	Visible   uint64
}

// Options configures an Oracle.
type Options struct {
	// MaxChainLength bounds chain walks. Defaults to DefaultMaxChainLength.
	MaxChainLength int
}

// Oracle is a visibility cursor.
type Oracle struct {
	rel  heap.Relation
	snap *txn.Snapshot
	clog txn.StatusSource
	opts Options

	state   State
	probe   model.RowID
	missing []model.RowID
	stats   Stats
}

// New binds an oracle to rel and snap. clog resolves transaction status.
func New(rel heap.Relation, snap *txn.Snapshot, clog txn.StatusSource, optFns ...func(o *Options)) *Oracle {
	opts := Options{MaxChainLength: DefaultMaxChainLength}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxChainLength <= 0 {
		opts.MaxChainLength = DefaultMaxChainLength
	}
	return &Oracle{rel: rel, snap: snap, clog: clog, opts: opts}
}

// Snapshot returns the bound snapshot.
func (o *Oracle) Snapshot() *txn.Snapshot { return o.snap }

// State returns the cursor state.
func (o *Oracle) State() State { return o.state }

// Stats returns the work counters.
func (o *Oracle) Stats() Stats { return o.stats }

// Missing returns the row ids found physically absent so far.
func (o *Oracle) Missing() []model.RowID { return o.missing }

// TakeMissing returns and clears the missing row ids.
func (o *Oracle) TakeMissing() []model.RowID {
	m := o.missing
	o.missing = nil
	return m
}

// Clone returns an independent cursor bound to the same relation and
// snapshot. Scratch state is not shared.
func (o *Oracle) Clone() *Oracle {
	return &Oracle{rel: o.rel, snap: o.snap, clog: o.clog, opts: o.opts}
}

// IsVisible reports whether the row indexed at tid has a version visible
// to the snapshot.
func (o *Oracle) IsVisible(ctx context.Context, tid model.RowID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if o.rel.AllVisible(tid.Block) {
		o.stats.FastPath++
		o.stats.Visible++
		return true, nil
	}
	_, _, ok, err := o.lookup(ctx, tid)
	return ok, err
}

// Lookup returns the version of the row indexed at tid that is visible to
// the snapshot, and where it lives. ok is false when no version is.
// Lookup always reads row data.
func (o *Oracle) Lookup(ctx context.Context, tid model.RowID) (item heap.Item, at model.RowID, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return heap.Item{}, model.InvalidRowID, false, err
	}
	return o.lookup(ctx, tid)
}

func (o *Oracle) lookup(ctx context.Context, tid model.RowID) (heap.Item, model.RowID, bool, error) {
	o.state = StateProbing
	o.probe = tid
	defer func() {
		o.state = StateIdle
		o.probe = model.InvalidRowID
	}()
	o.stats.SlowPath++

	cur := tid
	for hops := 0; ; hops++ {
		if hops > o.opts.MaxChainLength {
			return heap.Item{}, model.InvalidRowID, false, fmt.Errorf("%w: from %s", ErrChainTooLong, tid)
		}
		if hops > 0 {
			o.stats.ChainHops++
		}

		it, err := o.rel.Fetch(ctx, cur)
		if err != nil {
			if errors.Is(err, heap.ErrRowNotFound) {
				if hops == 0 {
					o.stats.Missing++
					o.missing = append(o.missing, tid)
				}
				return heap.Item{}, model.InvalidRowID, false, nil
			}
			return heap.Item{}, model.InvalidRowID, false, err
		}

		switch it.Kind {
		case heap.ItemRedirect:
			cur = it.Redirect
			continue
		case heap.ItemNormal:
		default:
			return heap.Item{}, model.InvalidRowID, false, nil
		}

		if o.versionVisible(it.Header) {
			o.stats.Visible++
			return it, cur, true, nil
		}
		// Only a committed-or-running updater leads to a newer version the
		// snapshot could see; a HOT successor lives in the same block.
		if !it.Header.HotUpdated || !o.snap.Sees(it.Header.XMin, o.clog) {
			return heap.Item{}, model.InvalidRowID, false, nil
		}
		cur = it.Header.Next
	}
}

// versionVisible applies the snapshot to one version's transaction header.
func (o *Oracle) versionVisible(h heap.TupleHeader) bool {
	if !o.snap.Sees(h.XMin, o.clog) {
		return false
	}
	if h.XMax == model.InvalidXID {
		return true
	}
	return !o.snap.Sees(h.XMax, o.clog)
}

// IsVisibleBatch returns the visible subset of tids in input order. It is
// equivalent to calling IsVisible on each id: the visibility map is
// consulted per row, so a block cleared mid-batch takes the slow path from
// then on.
func (o *Oracle) IsVisibleBatch(ctx context.Context, tids []model.RowID) ([]model.RowID, error) {
	out := make([]model.RowID, 0, len(tids))
	for _, tid := range tids {
		ok, err := o.IsVisible(ctx, tid)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tid)
		}
	}
	return out, nil
}
