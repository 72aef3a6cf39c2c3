// Package dialogue defines the boundary to the external dialogue backend that
// interprets a caller's utterances and collects booking fields.
//
// Replies are decoded once, at the boundary, into typed values. Every failure
// is either a *ProtocolError (the backend answered but the payload is unusable)
// or a *TransportError (the call itself failed, or the backend reported a
// failure).
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Backend is the dialogue backend.
type Backend interface {
	// Initiate starts a voice session for a doctor. A nil error guarantees a
	// non-empty Session.ID.
	Initiate(ctx context.Context, req InitiateRequest) (Session, error)

	// Process submits one utterance. A nil error guarantees a non-empty
	// TurnReply.Message.
	Process(ctx context.Context, req TurnRequest) (TurnReply, error)
}

// InitiateRequest starts a session.
type InitiateRequest struct {
	DoctorID string `json:"doctorId"`
}

// Session is a freshly created backend session.
type Session struct {
	ID             string
	WelcomeMessage string
}

// TurnRequest carries one user utterance. SessionID is empty when the caller
// has none, which asks the backend to recover or create one.
type TurnRequest struct {
	Text      string `json:"text"`
	DoctorID  string `json:"doctorId"`
	SessionID string `json:"sessionId,omitempty"`
}

// Record is the backend's partial booking record. Its fields are free-form.
type Record map[string]any

// Clone returns a shallow copy. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TurnReply is the backend's answer to one utterance.
type TurnReply struct {
	Message string

	// SessionID is the backend's session. Empty when the reply omitted it.
	SessionID string

	// UpdatedData is the full current record, nil when omitted.
	UpdatedData Record

	IsComplete bool

	// BookingResult is the confirmed booking. Nil unless the backend sent one.
	BookingResult map[string]any
}

// Completed reports whether the reply finishes the booking: completion must
// be flagged and a booking result present.
func (r TurnReply) Completed() bool {
	return r.IsComplete && r.BookingResult != nil
}

// Kind classifies a dialogue error.
type Kind int

const (
	KindNone Kind = iota
	KindProtocol
	KindTransport
	KindOther
)

// String returns the lower-case name of k.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "other"
	}
}

// ProtocolError means the backend answered but the payload could not be used.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dialogue: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("dialogue: %s: %s", e.Op, e.Reason)
}

// Unwrap returns the underlying decode or shape error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError means the call failed: network failure, timeout, an
// error status, or a backend-reported failure. Message holds the backend's
// own error text when it sent one.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("dialogue: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying network error, if any.
func (e *TransportError) Unwrap() error { return e.Err }

// Reported reports whether the backend itself answered with the failure, as
// opposed to the call never completing.
func (e *TransportError) Reported() bool {
	return e.StatusCode != 0 || e.Message != ""
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return KindProtocol
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindOther
}

// Reason returns the human-readable failure text of err, preferring the
// backend's message over wrapping context.
func Reason(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch {
		case te.Message != "":
			return te.Message
		case te.Err != nil:
			return causeText(te.Err)
		case te.StatusCode != 0:
			return fmt.Sprintf("HTTP %d", te.StatusCode)
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// causeText drops the method and URL that net/http prefixes to client errors.
func causeText(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}

// IsSessionExpired reports whether err indicates the session is invalid or
// expired. The backend gives no structured signal, so this looks for
// "session" in the failure text. Calls that never got an answer carry no
// backend text and never count as expiry.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && !te.Reported() {
		return false
	}
	return strings.Contains(strings.ToLower(Reason(err)), "session")
}
