package cache

import "time"

// DefaultCapacity bounds the in-memory store when no capacity is given.
const DefaultCapacity = 100

// Store is the response cache contract. Implementations must be safe for
// concurrent use and must never return an expired entry.
type Store interface {
	// Get returns the entry for key, or false if absent or expired.
	// Expired entries are removed as a side effect of the lookup.
	Get(key string) (*Entry, bool)

	// Set inserts an entry with the given TTL, evicting if necessary.
	Set(key string, entry *Entry, ttl time.Duration)

	// Delete removes one entry.
	Delete(key string)

	// Clear removes all entries.
	Clear()

	// Len returns the number of physically present entries, expired or not.
	Len() int
}
