package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/MrWong99/medconnect/internal/dialogue"
)

// ErrBackendUnavailable is the cause reported when every dialogue backend is
// behind an open breaker.
var ErrBackendUnavailable = errors.New("voice service temporarily unavailable")

// DialogueFallback is a [dialogue.Backend] spread over several replicas of the
// dialogue API. Initiate moves on to the next replica whenever no reply
// arrived. Process moves on only when the request never reached a replica
// (connection refused, dial failure): a timed-out turn may already have been
// applied. Anything the backend answered, including error statuses and
// malformed payloads, is returned to the caller untouched. Server errors
// (5xx) still count against the replica's breaker.
type DialogueFallback struct {
	group *FallbackGroup[dialogue.Backend]
}

var _ dialogue.Backend = (*DialogueFallback)(nil)

// NewDialogueFallback returns a DialogueFallback preferring primary. The
// FailoverOn and IsFailure predicates of cfg are replaced.
func NewDialogueFallback(primary dialogue.Backend, primaryName string, cfg FallbackConfig) *DialogueFallback {
	cfg.FailoverOn = unanswered
	cfg.CircuitBreaker.IsFailure = unhealthy
	return &DialogueFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another replica.
func (f *DialogueFallback) AddFallback(name string, b dialogue.Backend) {
	f.group.AddFallback(name, b)
}

// Names returns the replica names in try order.
func (f *DialogueFallback) Names() []string { return f.group.Names() }

// Initiate tries each backend in order until one opens a session.
func (f *DialogueFallback) Initiate(ctx context.Context, req dialogue.InitiateRequest) (dialogue.Session, error) {
	s, err := ExecuteWithResult(f.group, func(b dialogue.Backend) (dialogue.Session, error) {
		return b.Initiate(ctx, req)
	})
	return s, normalize("initiate", err)
}

// Process sends the turn to the first healthy backend. It moves to the next
// backend only when the turn provably never left this process.
func (f *DialogueFallback) Process(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error) {
	r, err := ExecuteWithPolicy(f.group, notSent, func(b dialogue.Backend) (dialogue.TurnReply, error) {
		return b.Process(ctx, req)
	})
	return r, normalize("process", err)
}

// normalize keeps the boundary's tagged errors intact and tags anything else
// (an all-open group, a canceled context) as a transport failure.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *dialogue.TransportError
	if errors.As(err, &te) {
		return te
	}
	var pe *dialogue.ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, ErrCircuitOpen) {
		return &dialogue.TransportError{Op: op, Err: ErrBackendUnavailable}
	}
	return &dialogue.TransportError{Op: op, Err: err}
}

// unanswered reports whether the call failed without any backend reply.
func unanswered(err error) bool {
	var te *dialogue.TransportError
	if errors.As(err, &te) {
		return !te.Reported()
	}
	return dialogue.KindOf(err) == dialogue.KindOther
}

// notSent reports whether the call failed before the request could reach the
// replica.
func notSent(err error) bool {
	var te *dialogue.TransportError
	if !errors.As(err, &te) || te.Reported() {
		return false
	}
	var op *net.OpError
	if errors.As(te, &op) && op.Op == "dial" {
		return true
	}
	return errors.Is(te, syscall.ECONNREFUSED)
}

// unhealthy reports whether err says the replica itself is in trouble.
func unhealthy(err error) bool {
	var te *dialogue.TransportError
	if errors.As(err, &te) {
		return !te.Reported() || te.StatusCode >= 500
	}
	return dialogue.KindOf(err) == dialogue.KindOther
}
