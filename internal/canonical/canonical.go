// Package canonical produces the sorted-key, whitespace-free JSON
// representation patterns are hashed and compared by (spec.md §3, §4.3).
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Marshal encodes v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace, arrays preserve
// insertion order. v is first round-tripped through json.Marshal so
// struct field tags are honored, then re-serialized key-sorted.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// Digest returns the lowercase-hex SHA-256 digest of canonical JSON
// bytes (spec.md invariant: pattern_digest = SHA256(json_canonical)).
func Digest(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:])
}

// MarshalAndDigest is the common case: canonicalize v and return both
// the bytes and their digest in one call.
func MarshalAndDigest(v any) (canonicalJSON []byte, digest string, err error) {
	canonicalJSON, err = Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return canonicalJSON, Digest(canonicalJSON), nil
}
