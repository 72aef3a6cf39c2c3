// Package capture defines the speech capture capability consumed by the voice
// booking controller.
//
// A Capture runs single-shot recognition cycles. Each cycle started with
// Start reports its progress as events on the Events channel: Started, then
// at most one Utterance or one Error, then always Ended. Only one cycle may be
// in flight at a time.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy is returned by Start while a cycle is in flight.
	ErrBusy = errors.New("capture: recognition already in progress")

	// ErrUnavailable is returned by Start when the capability is missing.
	ErrUnavailable = errors.New("capture: speech capture unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: closed")
)

// Capture is a speech capture capability.
type Capture interface {
	// Available reports whether the environment supports speech capture. The
	// result is fixed for the lifetime of the Capture.
	Available() bool

	// Start begins a recognition cycle. Progress is reported on Events.
	Start(ctx context.Context) error

	// Stop ends the current cycle, delivering any pending utterance first.
	// Stop without a cycle in flight is a no-op.
	Stop() error

	// Events returns the channel on which cycle events are delivered. It is
	// closed by Close.
	Events() <-chan Event

	// Close aborts any cycle and releases the capability.
	Close() error
}

// EventKind identifies a capture event.
type EventKind int

const (
	// Started means the microphone is live and recognition is running.
	Started EventKind = iota + 1
	// Utterance carries a recognised utterance in Event.Text.
	Utterance
	// Error carries a failure code in Event.Code.
	Error
	// Ended closes every cycle, whatever its outcome.
	Ended
)

// String returns the lower-case name of k.
func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Utterance:
		return "utterance"
	case Error:
		return "error"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// ErrorCode classifies a capture failure. The named values match the Web
// Speech API error codes; other values are passed through untouched.
type ErrorCode string

const (
	NoSpeech     ErrorCode = "no-speech"
	AudioCapture ErrorCode = "audio-capture"
	NotAllowed   ErrorCode = "not-allowed"
	Aborted      ErrorCode = "aborted"
	Network      ErrorCode = "network"
)

// Event is one step of a recognition cycle.
type Event struct {
	Kind EventKind
	Text string
	Code ErrorCode
	At   time.Time
}
