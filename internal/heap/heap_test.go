package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

func doc(body string) model.Document {
	return model.Document{Text: map[string]string{"body": body}}
}

func committed(t *testing.T, m *txn.Manager, fn func(xid model.XID)) model.XID {
	t.Helper()
	xid := m.Begin()
	fn(xid)
	require.NoError(t, m.Commit(xid))
	return xid
}

func TestTable_InsertFetch(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(2))

	var tids []model.RowID
	committed(t, m, func(xid model.XID) {
		for _, b := range []string{"a", "b", "c"} {
			tids = append(tids, tbl.Insert(xid, doc(b)))
		}
	})

	assert.Equal(t, model.RowID{Block: 0, Offset: 0}, tids[0])
	assert.Equal(t, model.RowID{Block: 1, Offset: 0}, tids[2])
	assert.Equal(t, 2, tbl.NumBlocks())
	assert.Equal(t, uint32(1), tbl.OID())

	it, err := tbl.Fetch(t.Context(), tids[1])
	require.NoError(t, err)
	assert.Equal(t, ItemNormal, it.Kind)
	assert.Equal(t, "b", it.Doc.Text["body"])
	assert.Equal(t, tids[1], it.Header.Next)

	_, err = tbl.Fetch(t.Context(), model.RowID{Block: 9})
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestTable_HotUpdateChain(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(4))

	var root model.RowID
	committed(t, m, func(xid model.XID) { root = tbl.Insert(xid, doc("v1")) })

	var v2 model.RowID
	committed(t, m, func(xid model.XID) {
		var hot bool
		var err error
		v2, hot, err = tbl.Update(xid, root, doc("v2"))
		require.NoError(t, err)
		assert.True(t, hot)
	})

	it, err := tbl.Fetch(t.Context(), root)
	require.NoError(t, err)
	assert.True(t, it.Header.HotUpdated)
	assert.Equal(t, v2, it.Header.Next)

	it, err = tbl.Fetch(t.Context(), v2)
	require.NoError(t, err)
	assert.True(t, it.Header.HeapOnly)
}

func TestTable_UpdateFullBlockIsNotHot(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(1))

	var root model.RowID
	committed(t, m, func(xid model.XID) { root = tbl.Insert(xid, doc("v1")) })

	xid := m.Begin()
	v2, hot, err := tbl.Update(xid, root, doc("v2"))
	require.NoError(t, err)
	assert.False(t, hot)
	assert.Equal(t, model.BlockNumber(1), v2.Block)

	// A second writer conflicts with the uncommitted update.
	other := m.Begin()
	assert.ErrorIs(t, tbl.Delete(other, root), ErrConcurrentUpdate)

	// Once the first writer aborts the old version is updatable again.
	require.NoError(t, m.Abort(xid))
	require.NoError(t, tbl.Delete(other, root))
}

func TestTable_PruneRedirectsHotRoot(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(8))

	var root, v2 model.RowID
	committed(t, m, func(xid model.XID) { root = tbl.Insert(xid, doc("v1")) })
	committed(t, m, func(xid model.XID) {
		var err error
		v2, _, err = tbl.Update(xid, root, doc("v2"))
		require.NoError(t, err)
	})

	n, err := tbl.Prune(t.Context(), m.OldestActive())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	it, err := tbl.Fetch(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, ItemRedirect, it.Kind)
	assert.Equal(t, v2, it.Redirect)

	// Deleting the survivor and pruning again frees the whole chain.
	committed(t, m, func(xid model.XID) { require.NoError(t, tbl.Delete(xid, v2)) })
	_, err = tbl.Prune(t.Context(), m.OldestActive())
	require.NoError(t, err)

	_, err = tbl.Fetch(t.Context(), root)
	assert.ErrorIs(t, err, ErrRowNotFound)
	_, err = tbl.Fetch(t.Context(), v2)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestTable_PruneKeepsVersionsVisibleToOldSnapshots(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m)

	var tid model.RowID
	committed(t, m, func(xid model.XID) { tid = tbl.Insert(xid, doc("a")) })

	reader := m.Begin()
	committed(t, m, func(xid model.XID) { require.NoError(t, tbl.Delete(xid, tid)) })

	n, err := tbl.Prune(t.Context(), m.OldestActive())
	require.NoError(t, err)
	assert.Zero(t, n, "reader still needs the deleted version")

	require.NoError(t, m.Commit(reader))
	n, err = tbl.Prune(t.Context(), m.OldestActive())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTable_VisibilityMap(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(2))

	var tids []model.RowID
	committed(t, m, func(xid model.XID) {
		for range 4 {
			tids = append(tids, tbl.Insert(xid, doc("x")))
		}
	})

	n, err := tbl.MarkAllVisible(t.Context(), m.OldestActive())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, tbl.AllVisible(0))
	assert.True(t, tbl.AllVisible(1))

	xid := m.Begin()
	require.NoError(t, tbl.Delete(xid, tids[3]))
	assert.True(t, tbl.AllVisible(0))
	assert.False(t, tbl.AllVisible(1), "modification clears the bit")

	// An in-flight delete keeps the block out of the map.
	n, err = tbl.MarkAllVisible(t.Context(), m.OldestActive())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(1), tbl.AllVisibleBlocks().GetCardinality())
}

func TestTable_Scan(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(1, m, WithItemsPerBlock(2))
	committed(t, m, func(xid model.XID) {
		for range 5 {
			tbl.Insert(xid, doc("x"))
		}
	})

	count := 0
	require.NoError(t, tbl.Scan(t.Context(), func(model.RowID, Item) bool {
		count++
		return count < 3
	}))
	assert.Equal(t, 3, count)
}

func TestTable_ImageRestore(t *testing.T) {
	m := txn.NewManager()
	tbl := NewTable(7, m, WithItemsPerBlock(2))

	var tids []model.RowID
	committed(t, m, func(xid model.XID) {
		for _, b := range []string{"a", "b", "c"} {
			tids = append(tids, tbl.Insert(xid, doc(b)))
		}
	})
	committed(t, m, func(xid model.XID) {
		require.NoError(t, tbl.Delete(xid, tids[2]))
	})
	_, err := tbl.MarkAllVisible(t.Context(), m.OldestActive())
	require.NoError(t, err)

	img := tbl.Image()
	assert.Equal(t, 3, img.Len())
	assert.Equal(t, tids, img.RowIDs())

	r := Restore(img, m)
	assert.Equal(t, uint32(7), r.OID())
	assert.Equal(t, tbl.AllVisibleBlocks().ToArray(), r.AllVisibleBlocks().ToArray())

	it, err := r.Fetch(t.Context(), tids[1])
	require.NoError(t, err)
	assert.Equal(t, "b", it.Doc.Text["body"])

	// The restored table keeps filling its last block.
	var added model.RowID
	committed(t, m, func(xid model.XID) { added = r.Insert(xid, doc("d")) })
	assert.Equal(t, model.RowID{Block: 1, Offset: 1}, added)

	// Images are copies.
	img.Blocks[0][0].Doc.Text["body"] = "changed"
	it, err = tbl.Fetch(t.Context(), tids[0])
	require.NoError(t, err)
	assert.Equal(t, "a", it.Doc.Text["body"])
}
