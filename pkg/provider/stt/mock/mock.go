// Package mock provides call-recording test doubles for the stt package.
//
// Provider hands out a preconfigured Session (or a fresh one) and records the
// StreamConfig of every StartStream call. Session exposes its transcript
// channels so tests can script exactly what a capture cycle will observe:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	sess.EmitFinal("I'd like an appointment tomorrow")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

// StartStreamCall records one Provider.StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil a new Session is created per
	// call.
	Session *Session

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	// StartStreamCalls records every call in order.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock stt.SessionHandle. Its channels are buffered and closed by
// Close, mirroring how real backends end a stream after flushing.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	closed   bool

	// OnClose, if set, runs inside Close before the channels are closed. Use
	// it to emit a final transcript during the flush.
	OnClose func(s *Session)

	// KeepOpenOnClose leaves the channels open after Close so tests can
	// exercise flush timeouts.
	KeepOpenOnClose bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SetKeywordsErr, if non-nil, is returned by every SetKeywords call.
	SetKeywordsErr error

	chunks     [][]byte
	keywords   [][]stt.KeywordBoost
	closeCalls int
}

// NewSession returns a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
	}
}

// EmitPartial queues an interim transcript.
func (s *Session) EmitPartial(text string) {
	s.emit(s.partials, stt.Transcript{Text: text})
}

// EmitFinal queues a committed transcript.
func (s *Session) EmitFinal(text string) {
	s.emit(s.finals, stt.Transcript{Text: text, IsFinal: true})
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && !s.KeepOpenOnClose {
		return
	}
	ch <- t
}

// End closes both channels as if the backend dropped the stream.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeChannels()
}

func (s *Session) closeChannels() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials returns the interim channel.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the committed channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords records the call and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, append([]stt.KeywordBoost(nil), keywords...))
	return s.SetKeywordsErr
}

// Close runs OnClose and then closes the channels unless KeepOpenOnClose.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	hook := s.OnClose
	s.OnClose = nil
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.KeepOpenOnClose {
		s.closeChannels()
	}
	return nil
}

// Chunks returns copies of every chunk passed to SendAudio.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// KeywordCalls returns every keyword list passed to SetKeywords.
func (s *Session) KeywordCalls() [][]stt.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]stt.KeywordBoost(nil), s.keywords...)
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

var _ stt.SessionHandle = (*Session)(nil)
