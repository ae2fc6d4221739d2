// Package cache stores successful GET responses keyed by a hash of
// method, URL, and body. Two backends are provided: a bounded in-memory
// LRU store with insertion-order eviction, and a Redis-backed store for
// sharing one response cache across client processes.
//
// Expiry is lazy: an entry whose TTL has elapsed is logically absent and
// is removed the next time it is looked up, whether or not it was ever
// physically evicted.
package cache
