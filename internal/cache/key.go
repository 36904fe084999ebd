package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Key derives the storage key for a piece of key material plus optional
// secondary parameters. Parameters are rendered "key:value" and appended in
// lexicographic key order, so two maps with the same contents always produce
// the same key regardless of iteration order.
//
// The composed string is hashed with SHA-256 and the hex digest is the key.
// Separators inside values are not escaped; a collision would need two
// distinct parameter sets composing to the same byte string, which we accept
// for this non-adversarial use.
func Key(text string, params map[string]string) string {
	material := text
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			material += "|" + k + ":" + params[k]
		}
	}

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
