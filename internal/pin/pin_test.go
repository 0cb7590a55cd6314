package pin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/model"
)

func TestPinIsIdempotent(t *testing.T) {
	pages := pagestore.New()
	blk, err := pages.Extend(1)
	require.NoError(t, err)

	s := NewSet(pages)
	require.NoError(t, s.Pin(blk))
	require.NoError(t, s.Pin(blk))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, pages.PinCount(blk), "second pin takes no extra reference")
	assert.True(t, s.IsPinned(blk))
	assert.False(t, pages.ConditionalCleanup(blk))

	assert.True(t, s.Unpin(blk))
	assert.False(t, s.IsPinned(blk))
	assert.Equal(t, 0, pages.PinCount(blk))
	assert.True(t, pages.ConditionalCleanup(blk))

	assert.False(t, s.Unpin(blk))
}

func TestReleaseAll(t *testing.T) {
	pages := pagestore.New()
	start, err := pages.Extend(3)
	require.NoError(t, err)

	s := NewSet(pages)
	for i := range 3 {
		require.NoError(t, s.Pin(start+model.BlockNumber(i)))
	}
	assert.Equal(t, 3, s.ReleaseAll())
	assert.Zero(t, s.Len())
	for i := range 3 {
		assert.Zero(t, pages.PinCount(start+model.BlockNumber(i)))
	}
}

func TestPinOutOfRange(t *testing.T) {
	s := NewSet(pagestore.New())
	require.ErrorIs(t, s.Pin(5), pagestore.ErrBlockOutOfRange)
	assert.Zero(t, s.Len())
}
