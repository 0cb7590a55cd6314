// Package testutil provides testing utilities for mvccindex.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Documents
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Documents(100)
//
// # Environments
//
// Env wires a transaction manager, heap, page store and catalog together
// and offers helpers that insert rows and register segments over them:
//
//	env, _ := testutil.NewEnv(ctx)
//	id, rows, _ := env.FlushSegment(ctx, docs)
//	snap := env.Snapshot()
package testutil
