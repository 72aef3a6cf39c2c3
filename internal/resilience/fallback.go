package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// FailoverOn decides whether an error moves on to the next entry. An
	// error it rejects is returned to the caller unchanged. Default: every
	// error fails over.
	FailoverOn func(error) bool
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of one provider type,
// each behind its own breaker. Entries must all be added before the group is
// used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.FailoverOn == nil {
		cfg.FailoverOn = func(error) bool { return true }
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Execute runs fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry until one succeeds. Entries
// with an open breaker are skipped. An error that FailoverOn rejects stops
// the walk and is returned as is. When every entry fails the result wraps
// both [ErrAllFailed] and the last real failure (or [ErrCircuitOpen] if every
// breaker was open).
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	return ExecuteWithPolicy(fg, fg.cfg.FailoverOn, fn)
}

// ExecuteWithPolicy is [ExecuteWithResult] with failoverOn in place of the
// group's FailoverOn, for calls that need a stricter rule than the group
// default.
func ExecuteWithPolicy[T any, R any](fg *FallbackGroup[T], failoverOn func(error) bool, fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
			continue
		}
		if !failoverOn(err) {
			return zero, err
		}
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
	}
	if lastErr == nil {
		lastErr = ErrCircuitOpen
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
