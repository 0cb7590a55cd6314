// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that fails writes, syncs or renames of matching paths
//
// The local blob store writes through a FileSystem so checkpoint tests can
// simulate a crash between writing a page image and publishing it.
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem calls are not interruptible at the syscall level; slow
// remote IO goes through blobstore, which carries a context.
package fs
