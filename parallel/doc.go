// Package parallel fans one aggregation scan out across cooperating
// workers.
//
// The coordinator launches workers that share a State: a spinlock guarded
// pair of counters (launched workers, remaining segments). Each worker waits
// for the launched count, computes its share with ChunkRange and claims
// segments from the tail of the cost ordered list, so the most expensive
// segments go first. A worker opens its own store restricted to the
// segments it claimed, folds them into a partial result and sends the
// encoded partial through the message queue. The coordinator merges and
// finalizes.
//
// When no worker can be admitted the coordinator runs the same loop inline
// as a single worker. Panics inside a worker are recovered, logged as
// warnings and abort the scan with ErrWorkerFault.
package parallel
