package mvcc

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

type fixture struct {
	tm      *txn.Manager
	entries []catalog.SegmentEntry
}

func persisted(xid model.XID, docs uint32) catalog.SegmentEntry {
	return catalog.SegmentEntry{
		ID:        model.NewSegmentID(),
		NumDocs:   docs,
		XMin:      xid,
		Persisted: &catalog.PersistedContent{Files: map[model.Component]model.FileEntry{model.ComponentTerms: {}}},
	}
}

func memory(xid model.XID, docs uint32, frozen bool) catalog.SegmentEntry {
	return catalog.SegmentEntry{
		ID:      model.NewSegmentID(),
		NumDocs: docs,
		XMin:    xid,
		Memory:  &catalog.MemoryContent{Frozen: frozen},
	}
}

// newFixture builds: two committed persisted segments (one later deleted by
// a committed merge), a frozen and an unfrozen memory segment, and one
// segment of a still running transaction.
func newFixture(t *testing.T) fixture {
	t.Helper()
	tm := txn.NewManager()

	committed := tm.Begin()
	a := persisted(committed, 10)
	b := persisted(committed, 50)
	frozen := memory(committed, 7, true)
	open := memory(committed, 3, false)
	require.NoError(t, tm.Commit(committed))

	merger := tm.Begin()
	b.XMax = merger
	require.NoError(t, tm.Commit(merger))

	running := tm.Begin()
	pending := persisted(running, 1000)

	return fixture{tm: tm, entries: []catalog.SegmentEntry{a, b, frozen, open, pending}}
}

func ids(entries []catalog.SegmentEntry) []model.SegmentID {
	return Resolution{Entries: entries}.IDs()
}

func TestResolveModes(t *testing.T) {
	f := newFixture(t)
	snap := f.tm.Snapshot(model.InvalidXID)
	a, b, frozen, open, pending := f.entries[0], f.entries[1], f.entries[2], f.entries[3], f.entries[4]

	r, err := Resolve(Snapshot(), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, RuleSnapshot, r.Rule)
	assert.Equal(t, []model.SegmentID{a.ID, frozen.ID, open.ID}, r.IDs())

	r, err = Resolve(Vacuum(), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, RuleAny, r.Rule)
	assert.False(t, r.Rule.NeedsVisibility())
	assert.Equal(t, []model.SegmentID{a.ID, b.ID, frozen.ID, open.ID, pending.ID}, r.IDs())

	r, err = Resolve(Mergeable(), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{a.ID, frozen.ID}, r.IDs())

	r, err = Resolve(LargestSegmentOnly(), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{a.ID}, r.IDs())
}

func TestResolveLargestTieBreak(t *testing.T) {
	tm := txn.NewManager()
	xid := tm.Begin()
	x, y := persisted(xid, 5), persisted(xid, 5)
	require.NoError(t, tm.Commit(xid))

	want := x.ID
	if y.ID.Compare(x.ID) < 0 {
		want = y.ID
	}
	r, err := Resolve(LargestSegmentOnly(), []catalog.SegmentEntry{x, y}, tm.Snapshot(model.InvalidXID), tm)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{want}, r.IDs())

	r, err = Resolve(LargestSegmentOnly(), nil, tm.Snapshot(model.InvalidXID), tm)
	require.NoError(t, err)
	assert.Empty(t, r.Entries)
}

func TestResolveWorkerSubset(t *testing.T) {
	f := newFixture(t)
	snap := f.tm.Snapshot(model.InvalidXID)
	a, b, open := f.entries[0], f.entries[1], f.entries[3]

	// Order follows the base resolution, not the requested id order.
	r, err := Resolve(ParallelWorkerSubset(Snapshot(), []model.SegmentID{open.ID, b.ID, a.ID}), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{a.ID, open.ID}, r.IDs())
	assert.Equal(t, RuleSnapshot, r.Rule)

	r, err = Resolve(ParallelWorkerSubset(Vacuum(), []model.SegmentID{b.ID}), f.entries, snap, f.tm)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{b.ID}, r.IDs())
	assert.Equal(t, RuleAny, r.Rule)
}

func TestResolveMismatch(t *testing.T) {
	f := newFixture(t)
	snap := f.tm.Snapshot(model.InvalidXID)

	bad := []Mode{
		{},
		{Kind: ModeParallelWorkerSubset},
		ParallelWorkerSubset(LargestSegmentOnly(), nil),
		ParallelWorkerSubset(ParallelWorkerSubset(Snapshot(), nil), nil),
	}
	for _, m := range bad {
		_, err := Resolve(m, f.entries, snap, f.tm)
		require.ErrorIs(t, err, ErrResolverMismatch, m.String())
	}
}

func TestWorkerSubsetIsSubsetOfBase(t *testing.T) {
	f := newFixture(t)
	snap := f.tm.Snapshot(model.InvalidXID)
	all := ids(f.entries)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	bases := []Mode{Snapshot(), Vacuum(), Mergeable()}

	properties.Property("worker subset resolution is an ordered subset of its base", prop.ForAll(
		func(baseIdx int, picks []bool) bool {
			base := bases[baseIdx]
			var chosen []model.SegmentID
			for i, pick := range picks {
				if pick && i < len(all) {
					chosen = append(chosen, all[i])
				}
			}

			full, err := Resolve(base, f.entries, snap, f.tm)
			if err != nil {
				return false
			}
			sub, err := Resolve(ParallelWorkerSubset(base, chosen), f.entries, snap, f.tm)
			if err != nil || sub.Rule != full.Rule {
				return false
			}

			// Every subset id appears in the base, in the same relative order.
			j := 0
			for _, id := range sub.IDs() {
				for j < len(full.Entries) && full.Entries[j].ID != id {
					j++
				}
				if j == len(full.Entries) {
					return false
				}
				j++
			}
			return true
		},
		gen.IntRange(0, len(bases)-1),
		gen.SliceOfN(len(all), gen.Bool()),
	))

	properties.TestingRun(t)
}
