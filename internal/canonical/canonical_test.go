package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	in := map[string]any{"b": 1, "a": 2, "c": []any{3, 2, 1}}
	out, err := Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2,"b":1,"c":[3,2,1]}`, string(out))
	require.Equal(t, `{"a":2,"b":1,"c":[3,2,1]}`, string(out))
}

func TestMarshalIdempotent(t *testing.T) {
	in := map[string]any{"z": 1, "a": map[string]any{"y": 2, "x": 1}}
	first, err := Marshal(in)
	require.NoError(t, err)

	var roundTripped any
	require.NoError(t, json.Unmarshal(first, &roundTripped))
	second, err := Marshal(roundTripped)
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
}

func TestDigestMatchesSHA256OfCanonicalBytes(t *testing.T) {
	canonicalJSON, digest, err := MarshalAndDigest(map[string]any{"id": "APEX:PAT:1"})
	require.NoError(t, err)
	require.Equal(t, Digest(canonicalJSON), digest)
	require.Len(t, digest, 64)
}
