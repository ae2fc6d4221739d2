// Package breaker implements a three-state circuit breaker that protects
// the upstream from being hammered while it is failing.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen fails all requests fast.
	StateOpen
	// StateHalfOpen probes whether the upstream has recovered.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute when the circuit is open and the
// recovery timeout has not yet elapsed. The wrapped operation is not invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker.
type Config struct {
	// Name identifies this breaker in logs and state change hooks.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is allowed through as a half-open probe.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state required to close the circuit again.
	SuccessThreshold int

	// OnStateChange is called whenever the state transitions.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Breaker is a mutex-guarded circuit breaker. It is safe for concurrent use.
//
// The open -> half-open transition is lazy: it happens on the first Execute
// call after the recovery timeout, not on a background timer.
type Breaker struct {
	config Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// New creates a circuit breaker in the closed state.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute wraps exactly one call to fn. If the circuit is open and the
// recovery timeout has not elapsed, fn is not invoked and ErrCircuitOpen is
// returned. Otherwise fn's error is propagated unchanged; the breaker only
// decides whether to attempt the call.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current state, applying the lazy open -> half-open
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Reset forces the breaker back to the closed state and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed, StateHalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	switch b.currentState() {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.toState(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.lastFailure = time.Now()

	switch b.currentState() {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.toState(StateOpen)
		}
	case StateHalfOpen:
		// A single failure while probing reopens the circuit.
		b.toState(StateOpen)
	}
}

// currentState must be called with the mutex held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.lastFailure) > b.config.RecoveryTimeout {
		b.toState(StateHalfOpen)
	}
	return b.state
}

// toState must be called with the mutex held.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}
