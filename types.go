package mvccindex

import (
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

type (
	// Document is the indexed projection of one row.
	Document = model.Document
	// RowID identifies a heap row.
	RowID = model.RowID
	// SegmentID identifies a segment.
	SegmentID = model.SegmentID
	// XID is a transaction id.
	XID = model.XID
	// Snapshot is a point-in-time view of committed transactions.
	Snapshot = txn.Snapshot
	// Mode selects which segments a store sees.
	Mode = mvcc.Mode
	// ResourceController bounds memory, scan workers, background jobs and
	// checkpoint IO.
	ResourceController = resource.Controller
	// ResourceConfig holds the limits of a ResourceController.
	ResourceConfig = resource.Config
)

// NewResourceController creates a controller that can be shared by several
// databases through WithResourceController.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

// SnapshotMode sees the segments live in the store's snapshot.
func SnapshotMode() Mode { return mvcc.Snapshot() }

// VacuumMode sees every catalog entry and skips row visibility.
func VacuumMode() Mode { return mvcc.Vacuum() }

// MergeableMode sees live persisted segments and frozen Memory segments.
func MergeableMode() Mode { return mvcc.Mergeable() }

// LargestSegmentOnlyMode sees the live segment with the most live documents.
func LargestSegmentOnlyMode() Mode { return mvcc.LargestSegmentOnly() }

// Hit is one visible row matched by Search.
type Hit struct {
	Segment SegmentID `json:"segment"`
	// Row is the id the segment indexes; Version is the visible version,
	// which differs after heap-only updates.
	Row      RowID    `json:"row"`
	Version  RowID    `json:"version"`
	Document Document `json:"document"`
}
