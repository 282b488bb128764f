package gameapi

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Sign computes the request signature the gift-code service requires on
// every call: all fields joined as "key=value" in sorted key order, dict
// values JSON-encoded, the shared secret appended, MD5-hashed to hex.
// Deterministic for identical input regardless of map insertion order.
func Sign(params map[string]any, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+encodeValue(params[k]))
	}

	sum := md5.Sum([]byte(strings.Join(parts, "&") + secret))
	return hex.EncodeToString(sum[:])
}

func encodeValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// signedForm returns a copy of params with the "sign" field attached.
func signedForm(params map[string]any, secret string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["sign"] = Sign(params, secret)
	return out
}
