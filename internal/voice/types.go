package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/pkg/capture"
)

// Refusals returned by controller operations. A refused operation changes
// nothing.
var (
	ErrNoSession          = errors.New("voice: no active session")
	ErrAlreadyListening   = errors.New("voice: already listening")
	ErrBusy               = errors.New("voice: a turn is in progress")
	ErrNotReady           = errors.New("voice: session is not initiated")
	ErrInitiated          = errors.New("voice: session already initiated")
	ErrCaptureUnavailable = errors.New("voice: speech capture unavailable")
	ErrCompleted          = errors.New("voice: booking already completed")
	ErrClosed             = errors.New("voice: controller closed")
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Messages are never modified once
// appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the controller's position in a booking attempt.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateIdle
	StateListening
	StateProcessing
	StateCompleted
)

// String returns the wire name of s.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	State      State
	SessionID  string
	DoctorID   string
	DoctorName string

	Messages []Message
	Record   dialogue.Record

	// BookingResult is set once the attempt completed.
	BookingResult map[string]any

	// Err is the last failure shown to the user, nil when the last
	// operation succeeded. An Idle controller with Err set is errored.
	Err error

	CaptureAvailable bool
}

// Errored reports whether the last operation failed.
func (s Snapshot) Errored() bool { return s.Err != nil }

// CaptureError is the error flag set by a failed listening cycle.
type CaptureError struct {
	Code capture.ErrorCode
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("voice: speech capture failed: %s", e.Code)
}

// Observer receives controller notifications in the order the changes were
// made. Calls are never concurrent. Implementations must not call back into
// the controller.
type Observer interface {
	MessageAppended(m Message)
	StateChanged(s Snapshot)
	ConversationCleared()
}
