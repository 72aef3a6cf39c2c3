package sttcapture

import (
	"context"
	"sync"

	"github.com/MrWong99/medconnect/pkg/audio"
)

// FrameSource is a Source fed by pushing frames, typically from a network
// connection. Frames pushed while no cycle holds the source open are dropped.
type FrameSource struct {
	buffer int

	mu     sync.Mutex
	out    chan audio.AudioFrame
	denied error
}

// NewFrameSource returns a FrameSource whose open channel buffers up to
// buffer frames.
func NewFrameSource(buffer int) *FrameSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &FrameSource{buffer: buffer}
}

// Open returns a channel that receives pushed frames until ctx is done. A
// channel still open from an earlier cycle is closed first.
func (s *FrameSource) Open(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied != nil {
		return nil, s.denied
	}
	if s.out != nil {
		close(s.out)
	}
	out := make(chan audio.AudioFrame, s.buffer)
	s.out = out
	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.out == out {
			s.out = nil
			close(out)
		}
	})
	return out, nil
}

// Push delivers f to the open cycle. It reports false when the frame was
// dropped because nothing is listening or the buffer is full.
func (s *FrameSource) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return false
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

// End closes the open channel, which ends the current cycle like Stop.
func (s *FrameSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
}

// Deny makes every later Open fail with err. Pass ErrPermissionDenied for a
// client that refused microphone access; nil clears the denial.
func (s *FrameSource) Deny(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = err
}
