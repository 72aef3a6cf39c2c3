// Package voice implements the voice booking session controller.
//
// A [Controller] drives one booking attempt for one doctor: it initiates a
// session with the dialogue backend, arms speech capture, turns each
// recognised utterance into a backend turn, and keeps the conversation, the
// partial booking record and the session id in a single owned state.
//
// All failures of the backend and of speech capture are absorbed. They show
// up as an assistant message in the conversation and as [Snapshot.Err];
// operations only return errors for refused commands.
//
// Capture events are consumed by [Controller.Run]. Commands (start, stop,
// typed text, reset) may be issued concurrently from another goroutine. At
// most one of listening and processing is ever active.
package voice

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medconnect/internal/archive"
	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/internal/observe"
	"github.com/MrWong99/medconnect/pkg/capture"
)

// archiveTimeout bounds transcript archiving at reset and teardown.
const archiveTimeout = 10 * time.Second

// Controller is the voice booking session controller. Create one with [New].
type Controller struct {
	backend    dialogue.Backend
	capture    capture.Capture
	doctorID   string
	doctorName string

	onComplete func(map[string]any)
	observer   Observer
	archiver   archive.Archiver
	metrics    *observe.Metrics
	now        func() time.Time

	mu               sync.Mutex
	state            State
	sessionID        string
	messages         []Message
	record           dialogue.Record
	bookingResult    map[string]any
	err              error
	captureAvailable bool
	attemptID        string
	startedAt        time.Time
	closed           bool

	// established is set once the backend accepted this attempt. It
	// survives session expiry so the next turn can renew the session.
	established bool

	// pending holds notifications queued under mu, delivered in order by
	// flush under notifyMu.
	pending  []func()
	notifyMu sync.Mutex
}

// New returns a controller for doctorID. capt may be nil when the connection
// has no speech capture; listening is then refused.
func New(backend dialogue.Backend, capt capture.Capture, doctorID string, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		capture:  capt,
		doctorID: doctorID,
		archiver: archive.Nop{},
		now:      time.Now,
		record:   dialogue.Record{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Initiate starts the first booking attempt. A failed initiation is absorbed:
// the conversation then holds a single apology and listening stays refused
// until [Controller.Reset].
func (c *Controller) Initiate(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != StateUninitialized:
		c.mu.Unlock()
		return ErrInitiated
	}
	c.beginAttemptLocked()
	c.mu.Unlock()
	c.flush()

	c.initiate(ctx)
	return nil
}

func (c *Controller) initiate(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, "voice.initiate",
		trace.WithAttributes(attribute.String("doctor_id", c.doctorID)))
	defer span.End()
	log := observe.Logger(ctx).With("doctor_id", c.doctorID)

	start := time.Now()
	sess, err := c.backend.Initiate(ctx, dialogue.InitiateRequest{DoctorID: c.doctorID})
	if err == nil && sess.ID == "" {
		err = &dialogue.ProtocolError{Op: "initiate", Reason: "Invalid response from server - no session ID received"}
	}
	c.recordCall(ctx, "initiate", start, err)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.messages = nil
	if err != nil {
		observe.FailSpan(span, err, "initiate failed")
		log.Warn("voice: initiate failed", "err", err)

		c.sessionID = ""
		c.established = false
		c.captureAvailable = false
		c.err = err
		c.appendLocked(RoleAssistant, initFailedMessage(dialogue.Reason(err)))
	} else {
		log.Info("voice: session initiated", "session_id", sess.ID)

		c.sessionID = sess.ID
		c.established = true
		c.err = nil
		c.appendLocked(RoleAssistant, sess.WelcomeMessage)

		// Availability is checked once per initiation.
		c.captureAvailable = c.capture != nil && c.capture.Available()
		if !c.captureAvailable {
			c.err = ErrCaptureUnavailable
			c.appendLocked(RoleAssistant, captureUnavailableNotice)
		}
	}
	c.state = StateIdle
	c.notifyStateLocked()
	c.mu.Unlock()
	c.flush()
}

// ProcessUtterance submits typed text as one turn. Text that is empty after
// trimming is ignored. Backend failures are absorbed; the returned error is a
// refusal: [ErrCompleted] after the attempt completed, [ErrBusy] while
// listening or processing, [ErrNotReady] before initiation finished.
func (c *Controller) ProcessUtterance(ctx context.Context, text string) error {
	return c.process(ctx, text, false)
}

func (c *Controller) process(ctx context.Context, text string, fromCapture bool) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	if err := c.turnAllowedLocked(fromCapture); err != nil {
		c.mu.Unlock()
		return err
	}
	// The user's message is visible before the backend answers.
	c.appendLocked(RoleUser, text)
	c.state = StateProcessing
	c.err = nil
	req := dialogue.TurnRequest{Text: text, DoctorID: c.doctorID, SessionID: c.sessionID}
	c.notifyStateLocked()
	c.mu.Unlock()
	c.flush()

	source := "text"
	if fromCapture {
		source = "voice"
	}
	ctx, span := observe.StartSpan(ctx, "voice.turn", trace.WithAttributes(
		attribute.String("doctor_id", c.doctorID),
		attribute.String("source", source),
		attribute.Bool("has_session", req.SessionID != ""),
	))
	defer span.End()
	log := observe.Logger(ctx).With("doctor_id", c.doctorID)

	c.metrics.RecordTurn(ctx, source)
	start := time.Now()
	reply, err := c.backend.Process(ctx, req)
	if err == nil && reply.Message == "" {
		err = &dialogue.ProtocolError{Op: "process", Reason: "Invalid response from server"}
	}
	c.recordCall(ctx, "process", start, err)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Debug("voice: dropping turn reply after close")
		return ErrClosed
	}
	if err != nil {
		observe.FailSpan(span, err, "turn failed")

		expired := dialogue.IsSessionExpired(err)
		log.Warn("voice: turn failed", "err", err, "session_expired", expired)
		if expired {
			c.sessionID = ""
			c.metrics.SessionExpiries.Add(ctx, 1)
		}
		c.err = err
		c.appendLocked(RoleAssistant, turnFailedMessage(expired))
		c.state = StateIdle
	} else {
		if reply.SessionID != "" && reply.SessionID != c.sessionID {
			log.Info("voice: session id updated", "old", c.sessionID, "new", reply.SessionID)
			c.sessionID = reply.SessionID
		}
		c.record = reply.UpdatedData.Clone()
		c.appendLocked(RoleAssistant, reply.Message)

		if reply.Completed() {
			log.Info("voice: booking completed", "session_id", c.sessionID)
			c.state = StateCompleted
			c.bookingResult = maps.Clone(reply.BookingResult)
			c.metrics.BookingsCompleted.Add(ctx, 1)
			if c.onComplete != nil {
				result := maps.Clone(reply.BookingResult)
				c.pending = append(c.pending, func() { c.onComplete(result) })
			}
		} else {
			c.state = StateIdle
		}
	}
	c.notifyStateLocked()
	c.mu.Unlock()
	c.flush()
	return nil
}

func (c *Controller) turnAllowedLocked(fromCapture bool) error {
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case StateIdle:
		return nil
	case StateListening:
		if fromCapture {
			return nil
		}
		return ErrBusy
	case StateProcessing:
		return ErrBusy
	case StateCompleted:
		return ErrCompleted
	default:
		return ErrNotReady
	}
}

// StartListening begins a listening cycle. ctx bounds the cycle. A refused
// start changes nothing and produces no event.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	err := c.listenAllowedLocked()
	if err == nil {
		if serr := c.capture.Start(ctx); serr != nil {
			switch {
			case errors.Is(serr, capture.ErrBusy):
				err = ErrAlreadyListening
			case errors.Is(serr, capture.ErrUnavailable):
				err = ErrCaptureUnavailable
			default:
				err = fmt.Errorf("voice: start capture: %w", serr)
			}
		}
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateListening
	c.notifyStateLocked()
	c.mu.Unlock()
	c.flush()
	return nil
}

func (c *Controller) listenAllowedLocked() error {
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case StateUninitialized, StateInitializing:
		return ErrNotReady
	case StateListening:
		return ErrAlreadyListening
	case StateProcessing:
		return ErrBusy
	case StateCompleted:
		return ErrCompleted
	}
	if !c.established {
		return ErrNoSession
	}
	if !c.captureAvailable {
		return ErrCaptureUnavailable
	}
	return nil
}

// StopListening asks capture to end the current cycle. A pending utterance
// is still delivered. Without a cycle in flight it does nothing.
func (c *Controller) StopListening() error {
	c.mu.Lock()
	listening := !c.closed && c.state == StateListening
	c.mu.Unlock()
	if !listening {
		return nil
	}
	return c.capture.Stop()
}

// HandleEvent applies one capture event.
func (c *Controller) HandleEvent(ctx context.Context, ev capture.Event) {
	log := observe.Logger(ctx).With("doctor_id", c.doctorID, "event", ev.Kind.String())

	switch ev.Kind {
	case capture.Started:
		c.mu.Lock()
		if !c.closed && c.established && (c.state == StateIdle || c.state == StateListening) {
			c.state = StateListening
			c.err = nil
			c.notifyStateLocked()
		}
		c.mu.Unlock()

	case capture.Utterance:
		c.mu.Lock()
		listening := c.state == StateListening
		c.mu.Unlock()
		if !listening {
			log.Debug("voice: ignoring utterance outside a listening cycle")
			return
		}
		if err := c.process(ctx, ev.Text, true); err != nil {
			log.Debug("voice: utterance refused", "err", err)
		}

	case capture.Error:
		c.metrics.RecordCaptureError(ctx, string(ev.Code))
		log.Info("voice: capture failed", "code", ev.Code)
		c.mu.Lock()
		if !c.closed && (c.state == StateListening || c.state == StateIdle) {
			c.err = &CaptureError{Code: ev.Code}
			c.appendLocked(RoleAssistant, captureFailedMessage(ev.Code))
			c.state = StateIdle
			c.notifyStateLocked()
		}
		c.mu.Unlock()

	case capture.Ended:
		c.mu.Lock()
		if c.state == StateListening {
			c.state = StateIdle
			c.notifyStateLocked()
		}
		c.mu.Unlock()
	}
	c.flush()
}

// Run dispatches capture events until the event channel closes or ctx is
// done. It is the only consumer of the capture's events.
func (c *Controller) Run(ctx context.Context) error {
	if c.capture == nil {
		return nil
	}
	events := c.capture.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// Reset archives the current attempt, clears the conversation, the record
// and the error flag, and initiates a new session. It is refused with
// [ErrNotReady] before [Controller.Initiate] and with [ErrBusy] while
// initiating, listening or processing.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateUninitialized:
		c.mu.Unlock()
		return ErrNotReady
	case StateInitializing, StateListening, StateProcessing:
		c.mu.Unlock()
		return ErrBusy
	}
	t := c.transcriptLocked(archive.ReasonReset)

	c.messages = nil
	c.record = dialogue.Record{}
	c.bookingResult = nil
	c.err = nil
	c.sessionID = ""
	c.established = false
	c.captureAvailable = false
	if c.observer != nil {
		c.pending = append(c.pending, c.observer.ConversationCleared)
	}
	c.beginAttemptLocked()
	c.mu.Unlock()
	c.flush()

	c.archive(ctx, t)
	c.initiate(ctx)
	return nil
}

// Close tears the controller down: it stops any listening cycle, archives
// the transcript and forgets the session. Later calls do nothing.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listening := c.state == StateListening
	t := c.transcriptLocked(archive.ReasonClose)
	c.sessionID = ""
	c.mu.Unlock()

	var err error
	if listening {
		err = c.capture.Stop()
	}
	c.archive(ctx, t)
	return err
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:            c.state,
		SessionID:        c.sessionID,
		DoctorID:         c.doctorID,
		DoctorName:       c.doctorName,
		Messages:         slices.Clone(c.messages),
		Record:           c.record.Clone(),
		BookingResult:    maps.Clone(c.bookingResult),
		Err:              c.err,
		CaptureAvailable: c.captureAvailable,
	}
}

func (c *Controller) beginAttemptLocked() {
	c.attemptID = uuid.NewString()
	c.startedAt = c.now()
	c.state = StateInitializing
	c.notifyStateLocked()
}

func (c *Controller) appendLocked(role Role, content string) {
	m := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, m)
	if c.observer != nil {
		c.pending = append(c.pending, func() { c.observer.MessageAppended(m) })
	}
}

func (c *Controller) notifyStateLocked() {
	if c.observer == nil {
		return
	}
	s := c.snapshotLocked()
	c.pending = append(c.pending, func() { c.observer.StateChanged(s) })
}

// flush delivers queued notifications. Notifications queued by other
// goroutines while delivering are delivered too, keeping the global order.
func (c *Controller) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (c *Controller) transcriptLocked(reason archive.Reason) archive.Transcript {
	entries := make([]archive.Entry, len(c.messages))
	for i, m := range c.messages {
		entries[i] = archive.Entry{Role: string(m.Role), Content: m.Content, At: m.Timestamp}
	}
	return archive.Transcript{
		ID:            c.attemptID,
		SessionID:     c.sessionID,
		DoctorID:      c.doctorID,
		Reason:        reason,
		Messages:      entries,
		Record:        c.record.Clone(),
		BookingResult: maps.Clone(c.bookingResult),
		StartedAt:     c.startedAt,
		EndedAt:       c.now(),
	}
}

func (c *Controller) archive(ctx context.Context, t archive.Transcript) {
	if len(t.Messages) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := c.archiver.Archive(ctx, t); err != nil {
		observe.Logger(ctx).Warn("voice: archive transcript failed",
			"transcript_id", t.ID, "doctor_id", t.DoctorID, "err", err)
	}
}

func (c *Controller) recordCall(ctx context.Context, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = dialogue.KindOf(err).String()
	}
	c.metrics.RecordDialogueCall(ctx, op, status, time.Since(start).Seconds())
}
