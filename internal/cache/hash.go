package cache

import (
	"encoding/hex"

	"github.com/minio/highwayhash"
)

var hashKey = []byte("citefidelity-embedding-cache-v1!")

// Key returns the cache key for text embedded with model. The model is part
// of the key so switching embedding models never returns stale vectors.
func Key(model, text string) string {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		// Only possible with a key that is not 32 bytes long.
		panic(err)
	}
	_, _ = h.Write([]byte(model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(h.Sum(nil))
}
