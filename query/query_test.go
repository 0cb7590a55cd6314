package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/codec"
)

func TestValidate(t *testing.T) {
	require.NoError(t, MatchAll().Validate())
	require.NoError(t, And(Term("title", "go"), Or(Term("body", "x"), MatchAll())).Validate())

	require.ErrorIs(t, Term("", "x").Validate(), ErrInvalidQuery)
	require.ErrorIs(t, And().Validate(), ErrInvalidQuery)
	require.ErrorIs(t, Or(Term("", "x")).Validate(), ErrInvalidQuery)
	require.ErrorIs(t, Query{Kind: "near"}.Validate(), ErrInvalidQuery)
}

func TestString(t *testing.T) {
	q := And(Term("title", "go"), Or(MatchAll()))
	assert.Equal(t, `and(title:"go", or(match_all))`, q.String())
}

func TestWireFormat(t *testing.T) {
	q := Or(Term("title", "hello world"), And(MatchAll()))
	data, err := codec.Default.Marshal(q)
	require.NoError(t, err)

	var got Query
	require.NoError(t, codec.Default.Unmarshal(data, &got))
	assert.Equal(t, q, got)
}
