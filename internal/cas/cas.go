// Package cas derives stable content addresses for graph nodes using
// BLAKE3 over canonical JSON.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"lukechampine.com/blake3"
)

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON encodes v with object keys sorted at every level.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
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
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Hash returns the 32-byte BLAKE3 digest of data.
func Hash(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// HashHex returns the hex encoded BLAKE3 digest of data.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// NodeID computes blake3(kind + "\n" + canonicalJSON(key)) as hex.
// Two nodes of the same kind with equal natural keys always share an id.
func NodeID(kind string, key any) (string, error) {
	canonical, err := CanonicalJSON(key)
	if err != nil {
		return "", err
	}
	data := make([]byte, 0, len(kind)+1+len(canonical))
	data = append(data, kind...)
	data = append(data, '\n')
	data = append(data, canonical...)
	return HashHex(data), nil
}

// MustNodeID is NodeID for keys built from plain strings, which always encode.
func MustNodeID(kind string, key map[string]string) string {
	id, err := NodeID(kind, key)
	if err != nil {
		panic(err)
	}
	return id
}
