package heap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

var (
	// ErrRowNotFound is returned when a row id has no item (never written or pruned).
	ErrRowNotFound = errors.New("row not found")
	// ErrConcurrentUpdate is returned when the target version was already
	// deleted or updated by a transaction that did not abort.
	ErrConcurrentUpdate = errors.New("row concurrently updated")
)

// DefaultItemsPerBlock is the block capacity used by NewTable.
const DefaultItemsPerBlock = 64

// ItemKind classifies a line item.
type ItemKind uint8

const (
	ItemUnused ItemKind = iota
	ItemNormal
	ItemRedirect
)

// TupleHeader carries the transaction metadata of one row version.
type TupleHeader struct {
	XMin model.XID
	XMax model.XID
	// Next points at the superseding version, or at the row itself when
	// this is the latest version.
	Next model.RowID
	// HotUpdated is set when Next is a heap-only version in the same block.
	HotUpdated bool
	// HeapOnly versions have no index entry of their own.
	HeapOnly bool
}

// Item is one line item as returned by Fetch.
type Item struct {
	Kind     ItemKind
	Redirect model.RowID
	Header   TupleHeader
	Doc      model.Document
}

// Relation is the read contract the visibility oracle needs.
type Relation interface {
	OID() uint32
	// AllVisible reports whether every row on block is visible to every snapshot.
	AllVisible(block model.BlockNumber) bool
	// Fetch returns the item at tid, or ErrRowNotFound.
	Fetch(ctx context.Context, tid model.RowID) (Item, error)
}

type block struct {
	items []Item
}

// Table is an in-memory heap relation.
type Table struct {
	oid           uint32
	itemsPerBlock int
	clog          txn.StatusSource

	mu     sync.RWMutex
	blocks []*block
	vm     *roaring.Bitmap
}

// Option configures a Table.
type Option func(*Table)

// WithItemsPerBlock overrides the block capacity.
func WithItemsPerBlock(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.itemsPerBlock = n
		}
	}
}

// NewTable creates an empty relation.
func NewTable(oid uint32, clog txn.StatusSource, optFns ...Option) *Table {
	t := &Table{
		oid:           oid,
		itemsPerBlock: DefaultItemsPerBlock,
		clog:          clog,
		vm:            roaring.New(),
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t
}

// OID implements Relation.
func (t *Table) OID() uint32 { return t.oid }

// NumBlocks returns the number of allocated blocks.
func (t *Table) NumBlocks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blocks)
}

// AllVisible implements Relation.
func (t *Table) AllVisible(blk model.BlockNumber) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vm.Contains(uint32(blk))
}

// Fetch implements Relation.
func (t *Table) Fetch(ctx context.Context, tid model.RowID) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	it, ok := t.itemLocked(tid)
	if !ok || it.Kind == ItemUnused {
		return Item{}, fmt.Errorf("%w: %s", ErrRowNotFound, tid)
	}
	out := *it
	out.Doc = it.Doc.Clone()
	return out, nil
}

func (t *Table) itemLocked(tid model.RowID) (*Item, bool) {
	if int(tid.Block) >= len(t.blocks) {
		return nil, false
	}
	b := t.blocks[tid.Block]
	if int(tid.Offset) >= len(b.items) {
		return nil, false
	}
	return &b.items[tid.Offset], true
}

// Insert adds a new root version created by xid.
func (t *Table) Insert(xid model.XID, doc model.Document) model.RowID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var blk model.BlockNumber
	if n := len(t.blocks); n > 0 && len(t.blocks[n-1].items) < t.itemsPerBlock {
		blk = model.BlockNumber(n - 1)
	} else {
		t.blocks = append(t.blocks, &block{items: make([]Item, 0, t.itemsPerBlock)})
		blk = model.BlockNumber(len(t.blocks) - 1)
	}
	return t.appendLocked(blk, xid, doc, false)
}

func (t *Table) appendLocked(blk model.BlockNumber, xid model.XID, doc model.Document, heapOnly bool) model.RowID {
	b := t.blocks[blk]
	tid := model.RowID{Block: blk, Offset: uint16(len(b.items))}
	b.items = append(b.items, Item{
		Kind: ItemNormal,
		Header: TupleHeader{
			XMin:     xid,
			Next:     tid,
			HeapOnly: heapOnly,
		},
		Doc: doc.Clone(),
	})
	t.vm.Remove(uint32(blk))
	return tid
}

// lockTargetLocked returns the live version at tid for modification by xid.
func (t *Table) lockTargetLocked(xid model.XID, tid model.RowID) (*Item, error) {
	it, ok := t.itemLocked(tid)
	if !ok || it.Kind != ItemNormal {
		return nil, fmt.Errorf("%w: %s", ErrRowNotFound, tid)
	}
	if xmax := it.Header.XMax; xmax != model.InvalidXID && xmax != xid && t.clog.Status(xmax) != txn.StatusAborted {
		return nil, fmt.Errorf("%w: %s by xid %d", ErrConcurrentUpdate, tid, xmax)
	}
	return it, nil
}

// Delete stamps the version at tid as deleted by xid.
func (t *Table) Delete(xid model.XID, tid model.RowID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, err := t.lockTargetLocked(xid, tid)
	if err != nil {
		return err
	}
	it.Header.XMax = xid
	it.Header.Next = tid
	it.Header.HotUpdated = false
	t.vm.Remove(uint32(tid.Block))
	return nil
}

// Update supersedes the version at tid with doc. When the block has room the
// new version is heap-only and hot reports true; otherwise the new version is
// a fresh root that needs its own index entry.
func (t *Table) Update(xid model.XID, tid model.RowID, doc model.Document) (newTID model.RowID, hot bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.lockTargetLocked(xid, tid); err != nil {
		return model.InvalidRowID, false, err
	}

	if len(t.blocks[tid.Block].items) < t.itemsPerBlock {
		newTID = t.appendLocked(tid.Block, xid, doc, true)
		hot = true
	} else {
		if n := len(t.blocks); len(t.blocks[n-1].items) >= t.itemsPerBlock {
			t.blocks = append(t.blocks, &block{items: make([]Item, 0, t.itemsPerBlock)})
		}
		newTID = t.appendLocked(model.BlockNumber(len(t.blocks)-1), xid, doc, false)
	}

	// appendLocked may have grown the block slice; re-resolve the old item.
	old, _ := t.itemLocked(tid)
	old.Header.XMax = xid
	old.Header.Next = newTID
	old.Header.HotUpdated = hot
	t.vm.Remove(uint32(tid.Block))
	return newTID, hot, nil
}

// dead reports whether a version is invisible to every snapshot whose xmin
// is at or above horizon.
func (t *Table) dead(h TupleHeader, horizon model.XID) bool {
	if h.XMin != model.FrozenXID && t.clog.Status(h.XMin) == txn.StatusAborted {
		return true
	}
	if h.XMax == model.InvalidXID {
		return false
	}
	return h.XMax < horizon && t.clog.Status(h.XMax) == txn.StatusCommitted
}

// Prune removes versions dead below horizon. HOT chain roots that die while
// later chain members survive become redirects. It returns the number of
// removed versions.
func (t *Table) Prune(ctx context.Context, horizon model.XID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for bi, b := range t.blocks {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		changed := false
		for off := range b.items {
			it := &b.items[off]
			if it.Kind == ItemUnused || it.Header.HeapOnly {
				continue
			}
			root := model.RowID{Block: model.BlockNumber(bi), Offset: uint16(off)}
			n, c := t.pruneChainLocked(b, root, horizon)
			removed += n
			changed = changed || c
		}
		if changed {
			t.vm.Remove(uint32(bi))
		}
	}
	return removed, nil
}

// chainLocked returns the stored versions reachable from root: the root
// itself when it is a normal item, followed by its heap-only successors.
func chainLocked(b *block, root model.RowID) []uint16 {
	rootItem := &b.items[root.Offset]

	var chain []uint16
	var cur uint16
	switch rootItem.Kind {
	case ItemRedirect:
		cur = rootItem.Redirect.Offset
	case ItemNormal:
		chain = append(chain, root.Offset)
		if !rootItem.Header.HotUpdated {
			return chain
		}
		cur = rootItem.Header.Next.Offset
	default:
		return nil
	}

	for len(chain) <= len(b.items) {
		it := &b.items[cur]
		if it.Kind != ItemNormal || !it.Header.HeapOnly {
			break
		}
		chain = append(chain, cur)
		if !it.Header.HotUpdated {
			break
		}
		cur = it.Header.Next.Offset
	}
	return chain
}

// pruneChainLocked collapses the dead prefix of the chain anchored at root.
func (t *Table) pruneChainLocked(b *block, root model.RowID, horizon model.XID) (int, bool) {
	rootItem := &b.items[root.Offset]
	chain := chainLocked(b, root)

	live := -1
	for i, off := range chain {
		if !t.dead(b.items[off].Header, horizon) {
			live = i
			break
		}
	}
	end := len(chain)
	if live >= 0 {
		end = live
	}

	removed := 0
	for _, off := range chain[:end] {
		if off == root.Offset {
			continue
		}
		b.items[off] = Item{Kind: ItemUnused}
		removed++
	}

	switch {
	case live == 0:
		// Either a live root or a redirect already pointing at the first survivor.
		return removed, removed > 0
	case live > 0:
		if rootItem.Kind == ItemNormal {
			removed++
		}
		*rootItem = Item{Kind: ItemRedirect, Redirect: model.RowID{Block: root.Block, Offset: chain[live]}}
		return removed, true
	default:
		if rootItem.Kind == ItemNormal {
			removed++
		}
		*rootItem = Item{Kind: ItemUnused}
		return removed, true
	}
}

// MarkAllVisible sets the visibility-map bit of every block whose versions
// were all created by xids committed below horizon and are not deleted.
// Blocks holding pruned slots stay unmarked: index entries may still point
// at them.
// It returns the number of newly marked blocks.
func (t *Table) MarkAllVisible(ctx context.Context, horizon model.XID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marked := 0
	for bi, b := range t.blocks {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if t.vm.Contains(uint32(bi)) {
			continue
		}
		if t.blockAllVisibleLocked(b, horizon) {
			t.vm.Add(uint32(bi))
			marked++
		}
	}
	return marked, nil
}

func (t *Table) blockAllVisibleLocked(b *block, horizon model.XID) bool {
	for i := range b.items {
		it := &b.items[i]
		switch it.Kind {
		case ItemUnused:
			return false
		case ItemRedirect:
			continue
		}
		h := it.Header
		if h.XMin != model.FrozenXID && (h.XMin >= horizon || t.clog.Status(h.XMin) != txn.StatusCommitted) {
			return false
		}
		if h.XMax != model.InvalidXID && t.clog.Status(h.XMax) != txn.StatusAborted {
			return false
		}
	}
	return true
}

// AllVisibleBlocks returns a copy of the visibility map.
func (t *Table) AllVisibleBlocks() *roaring.Bitmap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vm.Clone()
}

// Scan calls fn for every normal item in physical order until fn returns false.
func (t *Table) Scan(ctx context.Context, fn func(tid model.RowID, it Item) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for bi, b := range t.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		for off, it := range b.items {
			if it.Kind != ItemNormal {
				continue
			}
			if !fn(model.RowID{Block: model.BlockNumber(bi), Offset: uint16(off)}, it) {
				return nil
			}
		}
	}
	return nil
}
