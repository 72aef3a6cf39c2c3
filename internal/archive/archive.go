// Package archive stores the transcripts of finished booking attempts for
// audit.
//
// A transcript is archived when an attempt ends: the caller resets the
// conversation or disconnects. Archive failures are logged by the caller and
// never reach the user.
package archive

import (
	"context"
	"time"
)

// Reason says why an attempt ended.
type Reason string

const (
	ReasonReset Reason = "reset"
	ReasonClose Reason = "close"
)

// Entry is one conversation message.
type Entry struct {
	Role    string
	Content string
	At      time.Time
}

// Transcript is the archived state of one booking attempt.
type Transcript struct {
	// ID identifies the attempt. Archiving the same ID twice is a no-op.
	ID string

	// SessionID is the backend session at the end of the attempt. It may be
	// empty when initiation failed or the session expired.
	SessionID string
	DoctorID  string
	Reason    Reason

	Messages []Entry

	// Record is the last partial booking record.
	Record map[string]any

	// BookingResult is set when the attempt completed.
	BookingResult map[string]any

	StartedAt time.Time
	EndedAt   time.Time
}

// Completed reports whether the attempt produced a booking.
func (t Transcript) Completed() bool { return t.BookingResult != nil }

// Archiver persists transcripts.
type Archiver interface {
	Archive(ctx context.Context, t Transcript) error
}

// Nop discards transcripts.
type Nop struct{}

// Archive discards t.
func (Nop) Archive(context.Context, Transcript) error { return nil }
