// Package resource implements the Controller for global limits and governance.
//
// The Controller provides centralized management of four resource types:
//
//   - Memory: track and limit ephemeral index and aggregation memory (non-blocking, fail-fast)
//   - Worker slots: bound how many parallel scan workers may be launched
//   - Background jobs: serialize checkpoint and vacuum work
//   - IO: rate-limit checkpoint writes so they do not starve foreground scans
//
// # Worker Slots
//
// The parallel coordinator asks for one slot per worker it wants to launch
// and launches only as many as it receives:
//
//	launched := 0
//	for range want {
//	    if !rc.TryAcquireWorker() {
//	        break
//	    }
//	    launched++
//	}
//
// Zero admitted slots makes the coordinator fall back to running the scan in
// its own goroutine.
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
