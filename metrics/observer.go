// Package metrics defines the observation hooks of the scan pipeline.
package metrics

import (
	"sync/atomic"
	"time"
)

// Observer receives scan pipeline events. Implementations must be safe for
// concurrent use; workers report from their own goroutines.
type Observer interface {
	// OnScan is called when a parallel scan completes.
	OnScan(duration time.Duration, segments, workers int, err error)

	// OnCheckout reports the segments one worker claimed.
	OnCheckout(worker, segments int)

	// OnWorkerFault is called when a worker terminates abnormally.
	OnWorkerFault(worker int)

	// OnMaterialize is called after a Memory segment is built for a store.
	OnMaterialize(duration time.Duration, rows int, err error)

	// OnVisibility reports oracle counters of one worker.
	OnVisibility(fastPath, slowPath, missing uint64)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) OnScan(time.Duration, int, int, error)   {}
func (NoopObserver) OnCheckout(int, int)                     {}
func (NoopObserver) OnWorkerFault(int)                       {}
func (NoopObserver) OnMaterialize(time.Duration, int, error) {}
func (NoopObserver) OnVisibility(uint64, uint64, uint64)     {}

// BasicObserver keeps in-memory counters. Useful for tests and debugging
// without a metrics backend.
type BasicObserver struct {
	Scans              atomic.Int64
	ScanErrors         atomic.Int64
	ScanTotalNanos     atomic.Int64
	Checkouts          atomic.Int64
	CheckedOut         atomic.Int64
	WorkerFaults       atomic.Int64
	Materializations   atomic.Int64
	MaterializeErrors  atomic.Int64
	MaterializedRows   atomic.Int64
	VisibilityFastPath atomic.Int64
	VisibilitySlowPath atomic.Int64
	VisibilityMissing  atomic.Int64
}

// OnScan implements Observer.
func (b *BasicObserver) OnScan(d time.Duration, segments, workers int, err error) {
	b.Scans.Add(1)
	b.ScanTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// OnCheckout implements Observer.
func (b *BasicObserver) OnCheckout(worker, segments int) {
	b.Checkouts.Add(1)
	b.CheckedOut.Add(int64(segments))
}

// OnWorkerFault implements Observer.
func (b *BasicObserver) OnWorkerFault(worker int) {
	b.WorkerFaults.Add(1)
}

// OnMaterialize implements Observer.
func (b *BasicObserver) OnMaterialize(d time.Duration, rows int, err error) {
	b.Materializations.Add(1)
	b.MaterializedRows.Add(int64(rows))
	if err != nil {
		b.MaterializeErrors.Add(1)
	}
}

// OnVisibility implements Observer.
func (b *BasicObserver) OnVisibility(fastPath, slowPath, missing uint64) {
	b.VisibilityFastPath.Add(int64(fastPath))
	b.VisibilitySlowPath.Add(int64(slowPath))
	b.VisibilityMissing.Add(int64(missing))
}

// BasicStats is a snapshot of BasicObserver state.
type BasicStats struct {
	Scans             int64
	ScanErrors        int64
	ScanAvgNanos      int64
	CheckedOut        int64
	WorkerFaults      int64
	Materializations  int64
	MaterializedRows  int64
	VisibilitySlowPct float64
}

// Stats returns a snapshot of the counters.
func (b *BasicObserver) Stats() BasicStats {
	s := BasicStats{
		Scans:            b.Scans.Load(),
		ScanErrors:       b.ScanErrors.Load(),
		CheckedOut:       b.CheckedOut.Load(),
		WorkerFaults:     b.WorkerFaults.Load(),
		Materializations: b.Materializations.Load(),
		MaterializedRows: b.MaterializedRows.Load(),
	}
	if s.Scans > 0 {
		s.ScanAvgNanos = b.ScanTotalNanos.Load() / s.Scans
	}
	fast, slow := b.VisibilityFastPath.Load(), b.VisibilitySlowPath.Load()
	if total := fast + slow; total > 0 {
		s.VisibilitySlowPct = float64(slow) / float64(total) * 100
	}
	return s
}
