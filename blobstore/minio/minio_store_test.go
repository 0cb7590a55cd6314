package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/blobstore"
)

// TestMinioStore_Integration requires a running MinIO instance whose endpoint
// is given in MVCCINDEX_MINIO_ENDPOINT.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MVCCINDEX_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MVCCINDEX_MINIO_ENDPOINT not set")
	}

	store, err := New("test-mvccindex", Options{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Prefix:    "it",
	})
	require.NoError(t, err)

	ctx := context.Background()
	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	require.NoError(t, store.Put(ctx, "pages/0001", []byte("hello world")))
	defer func() { _ = store.Delete(ctx, "pages/0001") }()

	b, err := store.Open(ctx, "pages/0001")
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 9)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ld", string(buf[:n]))

	names, err := store.List(ctx, "pages/")
	require.NoError(t, err)
	assert.Contains(t, names, "pages/0001")

	_, err = store.Open(ctx, "pages/missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
