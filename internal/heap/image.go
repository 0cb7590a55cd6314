package heap

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// Image is a point-in-time copy of a table, suitable for encoding with a
// codec.
type Image struct {
	OID           uint32   `json:"oid"`
	ItemsPerBlock int      `json:"items_per_block"`
	Blocks        [][]Item `json:"blocks"`
	AllVisible    []uint32 `json:"all_visible,omitempty"`
}

// Image copies the table.
func (t *Table) Image() Image {
	t.mu.RLock()
	defer t.mu.RUnlock()

	img := Image{
		OID:           t.oid,
		ItemsPerBlock: t.itemsPerBlock,
		Blocks:        make([][]Item, len(t.blocks)),
		AllVisible:    t.vm.ToArray(),
	}
	for i, b := range t.blocks {
		items := make([]Item, len(b.items))
		for j, it := range b.items {
			items[j] = it
			items[j].Doc = it.Doc.Clone()
		}
		img.Blocks[i] = items
	}
	return img
}

// Restore rebuilds a table from img. clog must know the outcome of every
// xid stamped in img.
func Restore(img Image, clog txn.StatusSource) *Table {
	t := NewTable(img.OID, clog, WithItemsPerBlock(img.ItemsPerBlock))
	t.blocks = make([]*block, len(img.Blocks))
	for i, items := range img.Blocks {
		b := &block{items: make([]Item, len(items), max(len(items), t.itemsPerBlock))}
		copy(b.items, items)
		t.blocks[i] = b
	}
	t.vm = roaring.BitmapOf(slices.Clone(img.AllVisible)...)
	return t
}

// Len returns the number of line items, including redirects and unused slots.
func (img Image) Len() int {
	n := 0
	for _, items := range img.Blocks {
		n += len(items)
	}
	return n
}

// RowIDs returns the ids of every normal item of img in physical order.
func (img Image) RowIDs() []model.RowID {
	var out []model.RowID
	for bi, items := range img.Blocks {
		for off, it := range items {
			if it.Kind == ItemNormal {
				out = append(out, model.RowID{Block: model.BlockNumber(bi), Offset: uint16(off)})
			}
		}
	}
	return out
}
