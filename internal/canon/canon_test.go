package canon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	require.Equal(t, ca, cb)
	require.Equal(t, `{"a":2,"b":1}`, ca)
}

func TestCanonicalizeNestedAndArrays(t *testing.T) {
	v := map[string]any{
		"list":   []any{3, 1, 2},
		"nested": map[string]any{"z": true, "a": nil},
	}
	s, err := Canonicalize(v)
	require.NoError(t, err)
	require.Equal(t, `{"list":[3,1,2],"nested":{"a":null,"z":true}}`, s)
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestRoundTripLaw(t *testing.T) {
	v := map[string]any{"name": "email", "count": 3.0, "tags": []any{"a", "b"}}
	c1, err := Canonicalize(v)
	require.NoError(t, err)
	h1, err := Hash(v)
	require.NoError(t, err)

	var decoded any
	require.NoError(t, json.Unmarshal([]byte(c1), &decoded))

	c2, err := Canonicalize(decoded)
	require.NoError(t, err)
	h2, err := Hash(decoded)
	require.NoError(t, err)

	require.Equal(t, c1, c2)
	require.Equal(t, h1, h2)
}

func TestCanonicalNumberIntegral(t *testing.T) {
	s, err := Canonicalize(map[string]any{"n": 5.0})
	require.NoError(t, err)
	require.Equal(t, `{"n":5}`, s)
}
