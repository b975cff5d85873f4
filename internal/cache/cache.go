// Package cache stores computed embedding vectors so re-ingesting unchanged
// text never re-hits the provider. Entries are opaque bytes; the index owns
// the vector encoding.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// NoExpiration marks entries that never expire. Vectors are content-addressed,
// so they stay valid for as long as the model name in the key is in use.
const NoExpiration time.Duration = -1

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// VectorKey generates the cache key for an embedding of text under a model.
// The model name is part of the key: switching models must never serve
// vectors computed by another model.
func VectorKey(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return "reglens:v1:" + model + ":" + hex.EncodeToString(hash[:])
}
