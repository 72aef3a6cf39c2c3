// Package mock provides call-recording test doubles for the vad package.
//
// Session returns scripted events in order; once the script runs out it
// keeps returning the last event, or silence when there is no script.
package mock

import (
	"sync"

	"github.com/MrWong99/medconnect/pkg/provider/vad"
)

// Engine is a mock vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. When nil a fresh Session is created.
	Session *Session

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// Configs records the Config of every NewSession call.
	Configs []vad.Config
}

// NewSession records cfg and returns the configured Session or error.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a copy of the recorded configs.
func (e *Engine) Calls() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.Configs...)
}

// Session is a mock vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Events is the scripted sequence of ProcessFrame results.
	Events []vad.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	frames     [][]byte
	resets     int
	closeCalls int
}

// ProcessFrame records frame and returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	switch len(s.Events) {
	case 0:
		return vad.VADEvent{Type: vad.VADSilence}, nil
	case 1:
		return s.Events[0], nil
	default:
		ev := s.Events[0]
		s.Events = s.Events[1:]
		return ev, nil
	}
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Frames returns copies of every processed frame.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// CloseCalls returns how often Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
