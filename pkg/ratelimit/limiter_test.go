package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLimiter_AllowsExactlyLimitWithinWindow(t *testing.T) {
	l := NewLimiter()

	const limit = 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		if !l.Allow("svc:/path", limit, window) {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}

	if l.Allow("svc:/path", limit, window) {
		t.Errorf("call %d allowed, want denied", limit+1)
	}
}

func TestLimiter_DeniedAttemptsAreNotRecorded(t *testing.T) {
	l := NewLimiter()

	window := 50 * time.Millisecond
	if !l.Allow("k", 1, window) {
		t.Fatal("first call denied")
	}

	// Hammering while denied must not extend the window.
	for i := 0; i < 10; i++ {
		l.Allow("k", 1, window)
	}

	time.Sleep(60 * time.Millisecond)
	if !l.Allow("k", 1, window) {
		t.Error("call after window elapsed denied, want allowed")
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	l := NewLimiter()

	window := 80 * time.Millisecond
	if !l.Allow("k", 2, window) {
		t.Fatal("call 1 denied")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("k", 2, window) {
		t.Fatal("call 2 denied")
	}
	if l.Allow("k", 2, window) {
		t.Fatal("call 3 allowed inside full window")
	}

	// After the first timestamp falls out, one slot frees up while the
	// second timestamp still counts.
	time.Sleep(40 * time.Millisecond)
	if !l.Allow("k", 2, window) {
		t.Error("call after first timestamp expired denied, want allowed")
	}
	if l.Allow("k", 2, window) {
		t.Error("window refilled completely, want partial slide")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter()

	if !l.Allow("a", 1, time.Minute) {
		t.Fatal("key a denied")
	}
	if !l.Allow("b", 1, time.Minute) {
		t.Error("key b denied, want independent window")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter()

	l.Allow("a", 1, time.Minute)
	l.Allow("b", 1, time.Minute)

	l.Reset("a")
	if !l.Allow("a", 1, time.Minute) {
		t.Error("key a denied after Reset")
	}
	if l.Allow("b", 1, time.Minute) {
		t.Error("key b allowed, Reset must only clear one key")
	}

	l.ResetAll()
	if !l.Allow("b", 1, time.Minute) {
		t.Error("key b denied after ResetAll")
	}
}

func TestLimiter_CleanupDropsStaleKeysOnly(t *testing.T) {
	l := NewLimiter()

	l.Allow("stale", 10, 10*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	l.Allow("fresh", 10, time.Minute)

	l.Cleanup(20 * time.Millisecond)

	if got := l.Keys(); got != 1 {
		t.Errorf("Keys() after Cleanup = %d, want 1", got)
	}

	// The fresh key's window must be intact: its one recorded call still
	// counts toward a limit of 1.
	if l.Allow("fresh", 1, time.Minute) {
		t.Error("fresh key window was lost by Cleanup")
	}
}

func TestLimiter_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	l := NewLimiter()

	const limit = 10
	const callers = 50

	var wg sync.WaitGroup
	allowed := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared", limit, time.Minute) {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	if count != limit {
		t.Errorf("allowed %d concurrent calls, want exactly %d", count, limit)
	}
}

func TestLimiter_RejectsInvalidPolicy(t *testing.T) {
	l := NewLimiter()

	tests := []struct {
		limit  int
		window time.Duration
	}{
		{0, time.Minute},
		{-1, time.Minute},
		{5, 0},
		{5, -time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d window=%v", tt.limit, tt.window), func(t *testing.T) {
			if l.Allow("k", tt.limit, tt.window) {
				t.Error("Allow() = true for invalid policy, want false")
			}
		})
	}
}
