package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type partial struct {
	DocCount uint64             `json:"doc_count"`
	Sums     map[string]float64 `json:"sums"`
	Keys     []string           `json:"keys,omitempty"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}
	_, ok := ByName("gob")
	assert.False(t, ok)
}

func TestCodecsAreInterchangeable(t *testing.T) {
	in := partial{DocCount: 7, Sums: map[string]float64{"price": 12.5}, Keys: []string{"a"}}

	for _, enc := range []Codec{JSON{}, GoJSON{}} {
		for _, dec := range []Codec{JSON{}, GoJSON{}} {
			var out partial
			require.NoError(t, dec.Unmarshal(MustMarshal(enc, in), &out))
			assert.Equal(t, in, out, "%s -> %s", enc.Name(), dec.Name())
		}
	}
}

func TestMustMarshalPanics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(JSON{}, make(chan int)) })
}
