package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUStore is a bounded in-memory store. Eviction is by insertion order:
// when full, the least-recently-inserted entry is dropped to make room.
// Lookups do not refresh an entry's position.
type LRUStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest insertion
	items    map[string]*list.Element
}

type lruItem struct {
	key   string
	entry *Entry
}

// NewLRUStore creates a store bounded at capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewLRUStore(capacity int) *LRUStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRUStore{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the entry for key. An expired entry is treated as absent and
// removed on access.
func (s *LRUStore) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		cacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	item := elem.Value.(*lruItem)
	if item.entry.IsExpired() {
		s.removeLocked(elem)
		cacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	cacheHits.WithLabelValues("memory").Inc()
	return item.entry, true
}

// Set inserts entry under key with the given TTL. Re-inserting an existing
// key refreshes its payload and moves it to the newest insertion position.
func (s *LRUStore) Set(key string, entry *Entry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}

	now := time.Now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		elem.Value.(*lruItem).entry = entry
		s.order.MoveToBack(elem)
		return
	}

	if s.order.Len() >= s.capacity {
		if oldest := s.order.Front(); oldest != nil {
			s.removeLocked(oldest)
			cacheEvictions.WithLabelValues("memory").Inc()
		}
	}

	elem := s.order.PushBack(&lruItem{key: key, entry: entry})
	s.items[key] = elem
}

// Delete removes one entry.
func (s *LRUStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
	}
}

// Clear removes all entries.
func (s *LRUStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.items = make(map[string]*list.Element)
}

// Len returns the number of physically present entries.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// removeLocked must be called with the mutex held.
func (s *LRUStore) removeLocked(elem *list.Element) {
	item := elem.Value.(*lruItem)
	s.order.Remove(elem)
	delete(s.items, item.key)
}
