// Package keys resolves logical upstream key names to credentials, base
// addresses, permitted path patterns, and rate-limit policies. Credential
// issuance and rotation live outside this module; the client only consumes
// what a Provider hands it.
package keys

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"
)

var (
	// ErrKeyNotFound indicates the key name is not configured.
	ErrKeyNotFound = errors.New("upstream key not found")

	// ErrKeyExpired indicates the key's credential has expired.
	ErrKeyExpired = errors.New("upstream key expired")
)

// RatePolicy is the admission budget attached to a key.
type RatePolicy struct {
	// Requests is the number of requests admitted per Window.
	Requests int

	// Window is the trailing interval the budget applies to.
	Window time.Duration
}

// Key is a resolved upstream identity.
type Key struct {
	// Name is the logical key name the client was configured with.
	Name string

	// Credential is the bearer token attached to outgoing requests.
	Credential string

	// BaseURL is the upstream base address, without a trailing slash.
	BaseURL string

	// PathPatterns lists the permitted request paths as path.Match
	// patterns. Empty means all paths are permitted.
	PathPatterns []string

	// RateLimit overrides the client's default admission budget when
	// Requests is positive.
	RateLimit RatePolicy

	// ExpiresAt is when the credential stops being valid. Zero means it
	// does not expire.
	ExpiresAt time.Time
}

// Expired returns true once the credential is past its expiry.
func (k *Key) Expired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// AllowsPath reports whether p matches one of the key's permitted patterns.
func (k *Key) AllowsPath(p string) bool {
	if len(k.PathPatterns) == 0 {
		return true
	}
	for _, pattern := range k.PathPatterns {
		if ok, err := path.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}

// Provider resolves key names. Implementations must be safe for concurrent
// use; the client treats them as shared, read-only collaborators.
type Provider interface {
	// Resolve returns the current key for name. It returns ErrKeyNotFound
	// for unknown names and ErrKeyExpired for keys past their expiry.
	Resolve(ctx context.Context, name string) (*Key, error)
}

// StaticProvider serves keys from an in-memory table. Rotation is modelled
// by replacing a key under the same name.
type StaticProvider struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewStaticProvider creates a provider preloaded with the given keys.
func NewStaticProvider(keys ...*Key) *StaticProvider {
	p := &StaticProvider{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		p.keys[k.Name] = k
	}
	return p
}

// Resolve implements Provider.
func (p *StaticProvider) Resolve(_ context.Context, name string) (*Key, error) {
	p.mu.RLock()
	key, ok := p.keys[name]
	p.mu.RUnlock()

	if !ok {
		return nil, ErrKeyNotFound
	}
	if key.Expired() {
		return nil, ErrKeyExpired
	}

	// Copy so callers cannot mutate the table through the result.
	cp := *key
	cp.PathPatterns = append([]string(nil), key.PathPatterns...)
	return &cp, nil
}

// Put inserts or replaces a key, which is how rotation reaches the client.
func (p *StaticProvider) Put(key *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key.Name] = key
}

// Remove revokes a key.
func (p *StaticProvider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, name)
}
