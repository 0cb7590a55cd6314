package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

func TestListEncoding(t *testing.T) {
	entries := []SegmentEntry{
		{
			ID:         model.NewSegmentID(),
			NumDocs:    10,
			NumDeleted: 2,
			XMin:       5,
			XMax:       9,
			Persisted: &PersistedContent{Files: map[model.Component]model.FileEntry{
				model.ComponentTerms:    {StartingBlock: 3, TotalBytes: 100},
				model.ComponentPostings: {StartingBlock: 4, TotalBytes: 9000},
			}, Retired: []model.FileEntry{{StartingBlock: 20, TotalBytes: 64}}},
		},
		{
			ID:      model.NewSegmentID(),
			NumDocs: 2,
			XMin:    7,
			Memory: &MemoryContent{
				HeaderBlock: 12,
				StagedRows:  []model.RowID{{Block: 1, Offset: 2}, {Block: 3, Offset: 4}},
				Snapshot:    &txn.Snapshot{XMin: 4, XMax: 8, InProgress: []model.XID{5, 6}, Self: 7},
				Frozen:      true,
			},
		},
	}

	data, err := encodeList(entries)
	require.NoError(t, err)

	got, err := decodeList(data)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestListEncodingRejectsTruncation(t *testing.T) {
	data, err := encodeList([]SegmentEntry{{
		ID:        model.NewSegmentID(),
		Persisted: &PersistedContent{Files: map[model.Component]model.FileEntry{model.ComponentStore: {}}},
	}})
	require.NoError(t, err)

	_, err = decodeList(data[:len(data)-3])
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = decodeMetapage(make([]byte, 4))
	require.ErrorIs(t, err, ErrCorrupt)
}
