package pagestore

import (
	"context"
	"testing"

	"github.com/hupe1980/mvccindex/blobstore"
	"github.com/hupe1980/mvccindex/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendReadWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	start, err := s.Extend(3)
	require.NoError(t, err)
	assert.Equal(t, model.BlockNumber(0), start)
	assert.Equal(t, model.BlockNumber(3), s.NumBlocks())

	page, err := s.ReadPage(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, page, PageSize)
	assert.Equal(t, make([]byte, PageSize), page)

	require.NoError(t, s.WritePage(ctx, 1, []byte("hello")))
	page, err = s.ReadPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), page[:5])
	assert.Equal(t, byte(0), page[5])

	// Returned pages are copies.
	page[0] = 'X'
	again, err := s.ReadPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, byte('h'), again[0])

	_, err = s.ReadPage(ctx, 3)
	require.ErrorIs(t, err, ErrBlockOutOfRange)
	require.ErrorIs(t, s.WritePage(ctx, 1, make([]byte, PageSize+1)), ErrPageTooLarge)
}

func TestFreeReusesRuns(t *testing.T) {
	s := New()

	a, err := s.Extend(2)
	require.NoError(t, err)
	b, err := s.Extend(2)
	require.NoError(t, err)
	_, err = s.Extend(1)
	require.NoError(t, err)

	require.NoError(t, s.Free(a, 2))
	require.NoError(t, s.Free(b, 2))
	assert.Equal(t, 4, s.FreeBlocks())

	// Adjacent runs merge, so a 4-block extent fits.
	c, err := s.Extend(4)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 0, s.FreeBlocks())
	assert.Equal(t, model.BlockNumber(5), s.NumBlocks())
}

func TestPinBlocksFree(t *testing.T) {
	s := New()
	blk, err := s.Extend(1)
	require.NoError(t, err)

	p1, err := s.Pin(blk)
	require.NoError(t, err)
	p2, err := s.Pin(blk)
	require.NoError(t, err)
	assert.Equal(t, 2, s.PinCount(blk))
	assert.False(t, s.ConditionalCleanup(blk))
	require.ErrorIs(t, s.Free(blk, 1), ErrPinned)

	p1.Release()
	p1.Release()
	assert.Equal(t, 1, s.PinCount(blk))

	p2.Release()
	assert.True(t, s.ConditionalCleanup(blk))
	require.NoError(t, s.Free(blk, 1))

	_, err = s.Pin(model.BlockNumber(10))
	require.ErrorIs(t, err, ErrBlockOutOfRange)
}

func TestExtentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	data := make([]byte, 3*PageSize+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	fe, err := s.WriteExtent(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), fe.TotalBytes)
	assert.Equal(t, 4, ExtentBlocks(fe.TotalBytes))

	got, err := s.ReadExtent(ctx, fe)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	r := s.NewExtentReader(fe)
	buf := make([]byte, 10)
	_, err = r.ReadAt(ctx, buf, PageSize-5)
	require.NoError(t, err)
	assert.Equal(t, data[PageSize-5:PageSize+5], buf)

	_, err = r.ReadAt(ctx, buf, int64(len(data))-5)
	require.Error(t, err)

	empty, err := s.WriteExtent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ExtentBlocks(empty.TotalBytes))
	got, err = s.ReadExtent(ctx, empty)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.FreeExtent(fe))
	assert.Equal(t, 4, s.FreeBlocks())
}

func TestCheckpointAndRecover(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryStore()
	committer := blobstore.NewBlobCommitter(backend)

	s, err := Open(ctx, func(o *Options) {
		o.Backend = backend
		o.Committer = committer
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Generation())

	fe, err := s.WriteExtent(ctx, []byte("segment bytes"))
	require.NoError(t, err)
	extra, err := s.Extend(2)
	require.NoError(t, err)
	require.NoError(t, s.Free(extra, 2))

	stats, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, 1, stats.PagesWritten)
	assert.Equal(t, 0, s.DirtyPages())

	// Reads after the checkpoint come back through the page images.
	got, err := s.ReadExtent(ctx, fe)
	require.NoError(t, err)
	assert.Equal(t, "segment bytes", string(got))

	// Overwrite and checkpoint again: the first image is pruned.
	require.NoError(t, s.WritePage(ctx, fe.StartingBlock, []byte("SEGMENT bytes")))
	stats, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Generation)
	assert.Equal(t, 1, stats.ImagesPruned)

	reopened, err := Open(ctx, func(o *Options) {
		o.Backend = backend
		o.Committer = committer
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reopened.Generation())
	assert.Equal(t, s.NumBlocks(), reopened.NumBlocks())
	assert.Equal(t, 2, reopened.FreeBlocks())

	got, err = reopened.ReadExtent(ctx, fe)
	require.NoError(t, err)
	assert.Equal(t, "SEGMENT bytes", string(got))
}

func TestCheckpointFreedImagesAreCollected(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryStore()
	s := New(func(o *Options) { o.Backend = backend })

	fe, err := s.WriteExtent(ctx, []byte("short lived"))
	require.NoError(t, err)
	_, err = s.Checkpoint(ctx)
	require.NoError(t, err)

	images, err := backend.List(ctx, "pages/")
	require.NoError(t, err)
	assert.Len(t, images, 1)

	require.NoError(t, s.FreeExtent(fe))
	_, err = s.Checkpoint(ctx)
	require.NoError(t, err)

	images, err = backend.List(ctx, "pages/")
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestCheckpointWithoutBackend(t *testing.T) {
	_, err := New().Checkpoint(context.Background())
	require.ErrorIs(t, err, ErrNoBackend)
}

func TestCanceledContext(t *testing.T) {
	s := New()
	_, err := s.Extend(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReadPage(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
