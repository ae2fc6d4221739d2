package cache

import (
	"fmt"
	"hash/fnv"
)

// Key derives a deterministic cache key from method, URL, and request body.
// The body participates so that two GETs differing only in payload do not
// collide.
func Key(method, url string, body []byte) string {
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(body)
	return fmt.Sprintf("resp:%016x", h.Sum64())
}
