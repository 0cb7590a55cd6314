package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowIDPacking(t *testing.T) {
	r := RowID{Block: 7, Offset: 3}
	assert.Equal(t, r, RowIDFromUint64(r.Uint64()))
	assert.Less(t, RowID{Block: 1, Offset: 9}.Uint64(), RowID{Block: 2, Offset: 0}.Uint64())
	assert.False(t, InvalidRowID.IsValid())
	assert.Equal(t, "(7,3)", r.String())
}

func TestSegmentIDText(t *testing.T) {
	id := NewSegmentID()

	parsed, err := ParseSegmentID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Zero(t, id.Compare(parsed))
	assert.Len(t, id.Short(), 8)

	_, err = ParseSegmentID("not-a-uuid")
	assert.Error(t, err)

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back SegmentID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestXID(t *testing.T) {
	assert.False(t, InvalidXID.IsNormal())
	assert.False(t, FrozenXID.IsNormal())
	assert.True(t, FirstNormalXID.IsNormal())
}

func TestDocumentClone(t *testing.T) {
	d := Document{Text: map[string]string{"body": "a"}, Numeric: map[string]float64{"n": 1}}
	c := d.Clone()
	c.Text["body"] = "b"
	assert.Equal(t, "a", d.Text["body"])
	assert.Nil(t, c.Keyword)
}
