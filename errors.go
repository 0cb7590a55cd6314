package mvccindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/aggregate"
	"github.com/hupe1980/mvccindex/internal/catalog"
	"github.com/hupe1980/mvccindex/internal/heap"
	"github.com/hupe1980/mvccindex/internal/mvcc"
	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/parallel"
	"github.com/hupe1980/mvccindex/query"
	"github.com/hupe1980/mvccindex/store"
)

var (
	// ErrClosed is returned by every operation on a closed DB or store.
	ErrClosed = errors.New("mvccindex: closed")
	// ErrTxDone is returned when using a committed or aborted transaction.
	ErrTxDone = errors.New("mvccindex: transaction already finished")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("mvccindex: invalid config")
	// ErrNoBackend is returned by Checkpoint on a DB without storage.
	ErrNoBackend = errors.New("mvccindex: no storage backend")

	// ErrSegmentNotFound is returned when a segment id is not in the catalog.
	ErrSegmentNotFound = catalog.ErrSegmentNotFound
	// ErrRowNotFound is returned when a row id has no heap item.
	ErrRowNotFound = heap.ErrRowNotFound
	// ErrConcurrentUpdate is returned when a row was already modified by
	// another live transaction.
	ErrConcurrentUpdate = heap.ErrConcurrentUpdate
	// ErrMaterialize is returned when building a Memory segment fails.
	ErrMaterialize = store.ErrMaterialize
	// ErrWorkerFault is returned when a parallel worker fails.
	ErrWorkerFault = parallel.ErrWorkerFault
	// ErrResolverMismatch is returned for inconsistent snapshot modes.
	ErrResolverMismatch = mvcc.ErrResolverMismatch
	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = query.ErrInvalidQuery
	// ErrInvalidSpec is returned for malformed aggregation specs.
	ErrInvalidSpec = aggregate.ErrInvalidSpec
	// ErrMemoryLimit is returned when a partial result outgrows its budget.
	ErrMemoryLimit = aggregate.ErrMemoryLimit
	// ErrMemoryLimitExceeded is returned when the resource controller
	// refuses a memory reservation.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
	// ErrNotMergeable is returned when merging a segment the Mergeable mode
	// excludes, such as an unfrozen Memory segment.
	ErrNotMergeable = errors.New("mvccindex: segment not mergeable")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, txn.ErrNotInProgress):
		return fmt.Errorf("%w: %w", ErrTxDone, err)
	case errors.Is(err, pagestore.ErrNoBackend):
		return fmt.Errorf("%w: %w", ErrNoBackend, err)
	}
	return err
}
