// Package vad detects voice activity in PCM streams.
//
// An [Engine] hands out one [SessionHandle] per stream. Sessions keep their
// own smoothing state and answer synchronously, frame by frame, so they can
// sit inline in a capture loop. [Energy] is the built-in engine.
package vad

import "errors"

var (
	// ErrFrameSize is returned for a frame that does not match the session's
	// configured size.
	ErrFrameSize = errors.New("vad: frame size does not match config")

	// ErrClosed is returned by ProcessFrame after Close.
	ErrClosed = errors.New("vad: session closed")
)

// Config configures one session.
type Config struct {
	// SampleRate of the mono 16-bit PCM passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the length of every frame, typically 10, 20 or 30.
	FrameSizeMs int

	// SpeechThreshold is the probability at which speech starts. Range [0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as
	// silent once speech started. Must not exceed SpeechThreshold.
	SilenceThreshold float64

	// MinSilenceMs is how much continuous silence ends a speech segment.
	MinSilenceMs int
}

// FrameBytes returns the size in bytes of one frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("vad: sample rate must be positive")
	case c.FrameSizeMs <= 0 || c.FrameBytes() == 0:
		return errors.New("vad: frame size must be positive")
	case c.SpeechThreshold < 0 || c.SpeechThreshold > 1:
		return errors.New("vad: speech threshold must be within [0, 1]")
	case c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold:
		return errors.New("vad: silence threshold must be within [0, speech threshold]")
	case c.MinSilenceMs < 0:
		return errors.New("vad: min silence must not be negative")
	}
	return nil
}

// SessionHandle is the detector state of one stream. Not safe for
// concurrent use.
type SessionHandle interface {
	// ProcessFrame classifies one frame of exactly Config.FrameBytes bytes.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset forgets any speech in progress.
	Reset()

	// Close releases the session. Later calls to Close return nil.
	Close() error
}

// Engine creates sessions. Safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
