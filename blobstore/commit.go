package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// CurrentName is the blob holding the committed pointer of a BlobCommitter.
const CurrentName = "CURRENT"

// BlobCommitter implements Committer on top of a BlobStore by writing a
// CURRENT blob ("<version> <pointer>"). The compare-and-swap is only atomic
// within one process; use s3.DDBCommitStore when several writers share a bucket.
type BlobCommitter struct {
	store BlobStore
	mu    sync.Mutex
}

// NewBlobCommitter creates a committer writing CURRENT into store.
func NewBlobCommitter(store BlobStore) *BlobCommitter {
	return &BlobCommitter{store: store}
}

// Latest implements Committer.
func (c *BlobCommitter) Latest(ctx context.Context) (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestLocked(ctx)
}

func (c *BlobCommitter) latestLocked(ctx context.Context) (uint64, string, error) {
	data, err := ReadAll(ctx, c.store, CurrentName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, "", nil
		}
		return 0, "", err
	}
	versionText, pointer, ok := strings.Cut(strings.TrimSpace(string(data)), " ")
	if !ok {
		return 0, "", fmt.Errorf("malformed %s: %q", CurrentName, data)
	}
	version, err := strconv.ParseUint(versionText, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed %s version: %w", CurrentName, err)
	}
	return version, pointer, nil
}

// Commit implements Committer.
func (c *BlobCommitter) Commit(ctx context.Context, version uint64, pointer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, _, err := c.latestLocked(ctx)
	if err != nil {
		return err
	}
	if version <= latest {
		return fmt.Errorf("%w: version %d already committed", ErrConcurrentModification, version)
	}
	return c.store.Put(ctx, CurrentName, []byte(fmt.Sprintf("%d %s\n", version, pointer)))
}
