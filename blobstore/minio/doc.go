// Package minio provides a blobstore.BlobStore backed by MinIO or any other
// S3-compatible service (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.New("checkpoints", minio.Options{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Prefix:    "indexes/orders",
//	})
//
// Pair it with blobstore.NewBlobCommitter for single-writer deployments.
package minio
