// Package s3 provides Amazon S3 implementations of blobstore.BlobStore and
// a DynamoDB-backed blobstore.Committer.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", func(o *s3.Options) {
//	    o.Prefix = "indexes/orders/"
//	    o.Region = "us-east-1"
//	})
//	commits, err := s3.NewDDBCommitStoreFromConfig(ctx, "us-east-1", "mvccindex-commits", "s3://my-bucket/indexes/orders")
//
// # Features
//
//   - Range reads for page fetches
//   - Multipart uploads for large manifests
//   - Conditional checkpoint commits through DynamoDB
package s3
