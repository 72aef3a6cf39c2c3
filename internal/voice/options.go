package voice

import (
	"time"

	"github.com/MrWong99/medconnect/internal/archive"
	"github.com/MrWong99/medconnect/internal/observe"
)

// Option configures a [Controller].
type Option func(*Controller)

// WithOnComplete sets the function called with the booking result when an
// attempt completes. It runs once per attempt, outside the controller lock.
func WithOnComplete(fn func(result map[string]any)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithObserver registers an observer for conversation and state changes.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithArchiver sets where transcripts of finished attempts are stored.
// Default: [archive.Nop].
func WithArchiver(a archive.Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithDoctorName sets the doctor's display name reported in snapshots.
func WithDoctorName(name string) Option {
	return func(c *Controller) { c.doctorName = name }
}
