// Package fingerprint derives deterministic cache keys from request parameters.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Namespaces used by the gateway adapters.
const (
	Image = "image"
	Text  = "text"
	Audio = "audio"
)

// Key returns "<namespace>:<hex sha256>" computed over namespace and every
// key/value pair of params. Keys are sorted and values are JSON encoded, so
// the result does not depend on map iteration order and integer and float
// forms of the same number collide.
func Key(namespace string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(encode(params[k]))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Unencodable values (channels, funcs) fall back to their Go syntax.
		return []byte(fmt.Sprintf("%#v", v))
	}
	return data
}
