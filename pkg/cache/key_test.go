package cache

import (
	"strings"
	"testing"
	"time"
)

func TestKey_Deterministic(t *testing.T) {
	a := Key("GET", "https://api.example.com/v1/items", nil)
	b := Key("GET", "https://api.example.com/v1/items", nil)
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "resp:") {
		t.Errorf("Key() = %q, want resp: prefix", a)
	}
}

func TestKey_Discriminates(t *testing.T) {
	base := Key("GET", "https://api.example.com/v1/items", nil)

	tests := []struct {
		name   string
		method string
		url    string
		body   []byte
	}{
		{"method", "POST", "https://api.example.com/v1/items", nil},
		{"url", "GET", "https://api.example.com/v1/orders", nil},
		{"query", "GET", "https://api.example.com/v1/items?page=2", nil},
		{"body", "GET", "https://api.example.com/v1/items", []byte(`{"q":1}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.method, tt.url, tt.body); got == base {
				t.Errorf("Key() collided with base for differing %s", tt.name)
			}
		})
	}
}

func TestKey_FieldBoundaries(t *testing.T) {
	// The separator must prevent ambiguous concatenations from colliding.
	a := Key("GET", "ab", nil)
	b := Key("GETa", "b", nil)
	if a == b {
		t.Error("field boundary collision between method and url")
	}
}

func TestEntry_IsExpired(t *testing.T) {
	live := &Entry{ExpiresAt: time.Now().Add(time.Minute)}
	if live.IsExpired() {
		t.Error("IsExpired() = true for live entry")
	}

	stale := &Entry{ExpiresAt: time.Now().Add(-time.Second)}
	if !stale.IsExpired() {
		t.Error("IsExpired() = false for stale entry")
	}
}

func TestEntry_TTL(t *testing.T) {
	live := &Entry{ExpiresAt: time.Now().Add(time.Minute)}
	if ttl := live.TTL(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL() = %v, want within (0, 1m]", ttl)
	}

	stale := &Entry{ExpiresAt: time.Now().Add(-time.Second)}
	if ttl := stale.TTL(); ttl != 0 {
		t.Errorf("TTL() = %v for stale entry, want 0", ttl)
	}
}
