// Package idempotency makes retried scheduling calls safe: the first
// response produced for an (Idempotency-Key, endpoint) pair is stored and
// replayed verbatim on subsequent calls, so side-effecting work runs at
// most once per key.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// HashResponse computes a canonical content hash of (body, statusCode).
// Object keys are sorted recursively before hashing so semantically equal
// payloads hash identically regardless of key order. Array order is
// preserved.
func HashResponse(body []byte, statusCode int) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", fmt.Errorf("idempotency: canonicalize body: %w", err)
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(statusCode)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
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
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
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
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}
