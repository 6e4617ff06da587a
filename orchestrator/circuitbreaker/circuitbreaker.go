// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package circuitbreaker gates calls to remote scoring backends.
//
// Each backend gets its own Breaker with three states:
//
//   - CLOSED: calls pass through, failures are counted
//   - OPEN: calls are rejected locally until the recovery timeout elapses
//   - HALF_OPEN: a limited number of trial calls decide whether to close again
//
// The open threshold can adapt to the backend's rolling success rate so that
// historically reliable backends trip later and flaky ones trip sooner.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.Get("ml")
//	if err := cb.Allow(); err != nil {
//	    // skip this backend
//	}
//	if callErr != nil {
//	    cb.RecordFailure()
//	} else {
//	    cb.RecordSuccess()
//	}
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState is the inverse of State.String. Unknown strings map to CLOSED.
func ParseState(s string) State {
	switch s {
	case "HALF_OPEN":
		return StateHalfOpen
	case "OPEN":
		return StateOpen
	default:
		return StateClosed
	}
}

// ErrCircuitOpen is matched by every rejection returned from Allow.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError is returned by Allow when a call is rejected.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s for %s (retry after %s)", e.State, e.Name, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// Config contains circuit breaker configuration.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`

	// Adaptive threshold settings.
	Adaptive        bool    `yaml:"adaptive"`
	WindowSize      int     `yaml:"window_size"`
	MinSamples      int     `yaml:"min_samples"`
	LowSuccessRate  float64 `yaml:"low_success_rate"`
	HighSuccessRate float64 `yaml:"high_success_rate"`
	ThresholdStep   int     `yaml:"threshold_step"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		Adaptive:         true,
		WindowSize:       20,
		MinSamples:       10,
		LowSuccessRate:   0.7,
		HighSuccessRate:  0.95,
		ThresholdStep:    2,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery_timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half_open_max_calls must be >= 1, got %d", c.HalfOpenMaxCalls)
	}
	if c.Adaptive {
		if c.WindowSize < 1 {
			return fmt.Errorf("window_size must be >= 1, got %d", c.WindowSize)
		}
		if c.LowSuccessRate > c.HighSuccessRate {
			return fmt.Errorf("low_success_rate %.2f exceeds high_success_rate %.2f", c.LowSuccessRate, c.HighSuccessRate)
		}
	}
	return nil
}

// StateChangeFunc observes transitions. It is called with the breaker lock
// held and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// Breaker is a single backend's circuit.
type Breaker struct {
	name          string
	cfg           Config
	now           func() time.Time
	onStateChange StateChangeFunc

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenAttempts  int
	halfOpenSuccesses int

	// outcomes is a ring buffer of recent results, true = success.
	outcomes    []bool
	outcomeNext int
	outcomeLen  int
}

// New creates a breaker in the CLOSED state.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	if cfg.WindowSize > 0 {
		b.outcomes = make([]bool, cfg.WindowSize)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. An OPEN circuit whose recovery
// timeout has elapsed moves to HALF_OPEN here.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed <= b.cfg.RecoveryTimeout {
			return &OpenError{Name: b.name, State: StateOpen, RetryAfter: b.cfg.RecoveryTimeout - elapsed}
		}
		b.transition(StateHalfOpen)
		b.halfOpenAttempts = 1
		return nil

	case StateHalfOpen:
		if b.halfOpenAttempts >= b.cfg.HalfOpenMaxCalls {
			return &OpenError{Name: b.name, State: StateHalfOpen}
		}
		b.halfOpenAttempts++
		return nil

	default:
		return nil
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushOutcome(true)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.failureCount = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushOutcome(false)

	switch b.state {
	case StateHalfOpen:
		b.lastFailureTime = b.now()
		b.transition(StateOpen)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.effectiveThreshold() {
			b.lastFailureTime = b.now()
			b.transition(StateOpen)
		}
	}
}

// Reset forces the breaker back to CLOSED and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.outcomeLen = 0
	b.outcomeNext = 0
	b.transition(StateClosed)
}

// State returns the stored state without triggering a transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CurrentState is State adjusted for time: an OPEN circuit whose recovery
// timeout has elapsed reports HALF_OPEN, since the next Allow will admit a
// trial call. No transition happens here.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) > b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// IsOpen reports whether calls are currently rejected outright.
func (b *Breaker) IsOpen() bool {
	return b.CurrentState() == StateOpen
}

// Snapshot is a consistent copy of the breaker state.
type Snapshot struct {
	Name               string    `json:"name"`
	State              string    `json:"state"`
	FailureCount       int       `json:"failure_count"`
	LastFailureTime    time.Time `json:"last_failure_time,omitempty"`
	HalfOpenAttempts   int       `json:"half_open_attempts"`
	EffectiveThreshold int       `json:"effective_threshold"`
	SuccessRate        float64   `json:"success_rate"`
	Samples            int       `json:"samples"`
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	rate, n := b.successRate()
	return Snapshot{
		Name:               b.name,
		State:              b.currentState().String(),
		FailureCount:       b.failureCount,
		LastFailureTime:    b.lastFailureTime,
		HalfOpenAttempts:   b.halfOpenAttempts,
		EffectiveThreshold: b.effectiveThreshold(),
		SuccessRate:        rate,
		Samples:            n,
	}
}

// EffectiveThreshold returns the open threshold after adaptation.
func (b *Breaker) EffectiveThreshold() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveThreshold()
}

func (b *Breaker) effectiveThreshold() int {
	threshold := b.cfg.FailureThreshold
	if !b.cfg.Adaptive {
		return threshold
	}
	rate, n := b.successRate()
	if n == 0 || n < b.cfg.MinSamples {
		return threshold
	}
	switch {
	case rate < b.cfg.LowSuccessRate:
		threshold -= b.cfg.ThresholdStep
	case rate > b.cfg.HighSuccessRate:
		threshold += b.cfg.ThresholdStep
	}
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

func (b *Breaker) successRate() (float64, int) {
	if b.outcomeLen == 0 {
		return 1, 0
	}
	ok := 0
	for i := 0; i < b.outcomeLen; i++ {
		if b.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(b.outcomeLen), b.outcomeLen
}

func (b *Breaker) pushOutcome(success bool) {
	if len(b.outcomes) == 0 {
		return
	}
	b.outcomes[b.outcomeNext] = success
	b.outcomeNext = (b.outcomeNext + 1) % len(b.outcomes)
	if b.outcomeLen < len(b.outcomes) {
		b.outcomeLen++
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateHalfOpen || to == StateClosed {
		b.halfOpenAttempts = 0
		b.halfOpenSuccesses = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
