package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Cache holds immutable artifact bytes keyed by object path
type Cache interface {
	Get(path string) ([]byte, bool)
	Set(path string, data []byte)
	Forget(path string)
}

// Stats counts lookups since the cache was created
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Skipped uint64 `json:"skipped"`
	Entries int    `json:"entries"`
}

// Key maps an object path to its cache key. Run prefixes are deep, so the
// path is hashed.
func Key(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "provenant:v1:" + hex.EncodeToString(sum[:])
}
