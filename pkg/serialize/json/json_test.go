package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := New()
	data, err := s.Marshal(sample{Name: "room", Count: 3})
	require.NoError(t, err)

	var out sample
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, sample{Name: "room", Count: 3}, out)
}
