// Package blobstore provides durable storage for page-store checkpoints.
//
// A checkpoint writes page images and a manifest as blobs and then publishes
// the manifest through a Committer. Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests and ephemeral indexes
//   - LocalStore: local filesystem with atomic rename writes
//   - CachingStore: block cache in front of any other store
//   - s3.Store / s3.DDBCommitStore: Amazon S3, with DynamoDB conditional commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
