// Package mock provides a scripted capture.Capture for tests.
//
// Start and Stop calls are recorded. Events are pushed by the test through
// Emit (or the Say/Fail helpers), so a test decides exactly when a cycle
// starts, what it recognises, and when it ends.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/medconnect/pkg/capture"
)

// Capture is a scripted capture.Capture.
type Capture struct {
	mu sync.Mutex

	// Unavailable makes Available report false and Start fail.
	Unavailable bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// AutoStart emits Started from within Start.
	AutoStart bool

	events     chan capture.Event
	closed     bool
	startCalls int
	stopCalls  int
	closeCalls int
}

// New returns a Capture with a buffered event channel.
func New() *Capture {
	return &Capture{events: make(chan capture.Event, 32)}
}

// Available reports false when Unavailable is set.
func (c *Capture) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Unavailable
}

// Start records the call. It fails with StartErr, or ErrUnavailable when
// Unavailable is set.
func (c *Capture) Start(context.Context) error {
	c.mu.Lock()
	c.startCalls++
	err := c.StartErr
	if c.Unavailable {
		err = capture.ErrUnavailable
	}
	auto := c.AutoStart
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		c.Emit(capture.Event{Kind: capture.Started})
	}
	return nil
}

// Stop records the call.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	return nil
}

// Events returns the channel fed by [Capture.Emit] and the scripted helpers.
func (c *Capture) Events() <-chan capture.Event { return c.events }

// Close closes the event channel. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Emit delivers e, stamping At when zero. Emit after Close is dropped.
func (c *Capture) Emit(e capture.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- e
}

// Say emits a full successful cycle: Started, Utterance(text), Ended.
func (c *Capture) Say(text string) {
	c.Emit(capture.Event{Kind: capture.Started})
	c.Emit(capture.Event{Kind: capture.Utterance, Text: text})
	c.Emit(capture.Event{Kind: capture.Ended})
}

// Fail emits a failed cycle: Started, Error(code), Ended.
func (c *Capture) Fail(code capture.ErrorCode) {
	c.Emit(capture.Event{Kind: capture.Started})
	c.Emit(capture.Event{Kind: capture.Error, Code: code})
	c.Emit(capture.Event{Kind: capture.Ended})
}

// StartCalls returns the number of Start calls.
func (c *Capture) StartCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalls
}

// StopCalls returns the number of Stop calls.
func (c *Capture) StopCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalls
}

// CloseCalls returns the number of Close calls.
func (c *Capture) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

var _ capture.Capture = (*Capture)(nil)
