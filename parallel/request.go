package parallel

import (
	"github.com/hupe1980/mvccindex/aggregate"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/query"
	"github.com/hupe1980/mvccindex/store"
)

// Request is what every worker receives, encoded with the coordinator's
// codec.
type Request struct {
	Query query.Query    `json:"query"`
	Spec  aggregate.Spec `json:"spec"`
	// Mode is the undivided mode the segment list was resolved under.
	// Workers narrow it to their claims with mvcc.ParallelWorkerSubset.
	Mode mvcc.Mode `json:"mode"`
	// Segments are in cost order, cheapest first.
	Segments []store.SegmentRef `json:"segments"`
}

// message is one encoded partial result on the queue.
type message struct {
	worker int
	data   []byte
}
