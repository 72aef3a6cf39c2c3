// Package resilience provides the circuit breaker and failover primitives that
// sit between the voice controller and its remote dependencies.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] pairs several instances of one provider type with a breaker
// each and tries them in order. [DialogueFallback] and [STTFallback] apply the
// group to the dialogue backend and to speech-to-text.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the lower-case name of s.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the wrapped call counts
	// against the breaker. Errors it rejects are passed through but treated as
	// a completed call. Default: every non-nil error counts.
	IsFailure func(error) bool

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	now          func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenOK    int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		now:          cfg.Now,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker is open, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && cb.isFailure(err) {
		cb.recordFailure(probe)
	} else {
		cb.recordSuccess(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls, cb.halfOpenOK = 0, 0
		slog.Info("circuit breaker half-open", "name", cb.name)
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}
	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		return true, nil
	}
	return false, nil
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.lastFailure = cb.now()
	if probe {
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.name)
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failures = 0
		slog.Info("circuit breaker closed", "name", cb.name)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports half-open; the transition itself happens on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls, cb.halfOpenOK = 0, 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
