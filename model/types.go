package model

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// SegmentID is the unique identifier for a segment within an index.
type SegmentID uuid.UUID

// NilSegmentID is the zero SegmentID.
var NilSegmentID SegmentID

// NewSegmentID returns a new random SegmentID.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.New())
}

// ParseSegmentID parses the canonical text form of a SegmentID.
func ParseSegmentID(s string) (SegmentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilSegmentID, fmt.Errorf("invalid segment id %q: %w", s, err)
	}
	return SegmentID(u), nil
}

func (id SegmentID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first eight hex digits, for log lines.
func (id SegmentID) Short() string {
	return id.String()[:8]
}

// Compare orders segment ids bytewise.
func (id SegmentID) Compare(other SegmentID) int {
	for i := range id {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (id SegmentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SegmentID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = SegmentID(u)
	return nil
}

// BlockNumber addresses one fixed-size host page.
type BlockNumber uint32

// InvalidBlockNumber marks an unset block reference.
const InvalidBlockNumber = BlockNumber(math.MaxUint32)

// RowID is the physical address of one row version in the host row store.
type RowID struct {
	Block  BlockNumber
	Offset uint16
}

// InvalidRowID marks an unset row reference.
var InvalidRowID = RowID{Block: InvalidBlockNumber}

// RowIDFromUint64 reverses RowID.Uint64.
func RowIDFromUint64(v uint64) RowID {
	return RowID{Block: BlockNumber(v >> 16), Offset: uint16(v)}
}

// Uint64 packs the row id so that numeric order equals (block, offset) order.
func (r RowID) Uint64() uint64 {
	return uint64(r.Block)<<16 | uint64(r.Offset)
}

// IsValid reports whether the row id points at a block.
func (r RowID) IsValid() bool {
	return r.Block != InvalidBlockNumber
}

func (r RowID) String() string {
	return fmt.Sprintf("(%d,%d)", r.Block, r.Offset)
}

// XID is a host transaction identifier.
type XID uint32

const (
	// InvalidXID marks an unset xmin/xmax.
	InvalidXID XID = 0
	// FrozenXID is committed and visible to every snapshot.
	FrozenXID XID = 2
	// FirstNormalXID is the first xid handed out to a transaction.
	FirstNormalXID XID = 3
)

// IsNormal reports whether x was allocated to a real transaction.
func (x XID) IsNormal() bool {
	return x >= FirstNormalXID
}

// Component names one logical file of a segment.
type Component uint8

const (
	ComponentTerms Component = iota
	ComponentPostings
	ComponentFastFields
	ComponentFieldNorms
	ComponentStore
	ComponentDelete
)

// Components lists every component in storage order.
var Components = []Component{
	ComponentTerms,
	ComponentPostings,
	ComponentFastFields,
	ComponentFieldNorms,
	ComponentStore,
	ComponentDelete,
}

func (c Component) String() string {
	switch c {
	case ComponentTerms:
		return "terms"
	case ComponentPostings:
		return "postings"
	case ComponentFastFields:
		return "fast_fields"
	case ComponentFieldNorms:
		return "field_norms"
	case ComponentStore:
		return "store"
	case ComponentDelete:
		return "delete"
	default:
		return fmt.Sprintf("component(%d)", uint8(c))
	}
}

// FileEntry locates a component as a contiguous run of host pages.
type FileEntry struct {
	StartingBlock BlockNumber
	TotalBytes    uint64
}

// Document is the indexed projection of one row version.
type Document struct {
	// Text fields are tokenized into the term dictionary.
	Text map[string]string `json:"text,omitempty"`
	// Keyword fields are stored verbatim as fast fields (group-by keys).
	Keyword map[string]string `json:"keyword,omitempty"`
	// Numeric fields are stored as fast fields (metric inputs).
	Numeric map[string]float64 `json:"numeric,omitempty"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{}
	if d.Text != nil {
		out.Text = make(map[string]string, len(d.Text))
		for k, v := range d.Text {
			out.Text[k] = v
		}
	}
	if d.Keyword != nil {
		out.Keyword = make(map[string]string, len(d.Keyword))
		for k, v := range d.Keyword {
			out.Keyword[k] = v
		}
	}
	if d.Numeric != nil {
		out.Numeric = make(map[string]float64, len(d.Numeric))
		for k, v := range d.Numeric {
			out.Numeric[k] = v
		}
	}
	return out
}
