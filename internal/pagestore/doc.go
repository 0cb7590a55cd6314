// Package pagestore implements the host page storage the segment catalog
// lives in.
//
// Pages are fixed-size (PageSize) and addressed by model.BlockNumber.
// Contiguous runs of pages (extents) hold segment components and catalog
// records. Buffer pins protect a page from being freed: Free refuses pinned
// blocks and ConditionalCleanup lets a reclamation pass test a location
// without blocking.
//
// # Checkpoints
//
// Checkpoint writes every dirty page as an immutable blob named after the
// checkpoint generation, then a manifest listing the newest image of every
// page, and finally publishes the manifest through a blobstore.Committer.
// Open recovers the last published manifest. Clean pages are read back
// lazily and kept in a block cache.
package pagestore
