// Package stt defines the Provider interface for speech-to-text backends used
// by voice booking capture.
//
// A provider wraps a transcription service (Deepgram, a whisper.cpp server, or
// an in-process whisper model) behind a uniform streaming interface. Once a
// stream is open it accepts 16-bit PCM frames and emits two streams of
// [Transcript] values: low-latency partials and authoritative finals. Voice
// booking only ever forwards finals to the dialogue backend.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional SessionHandle operations that a
// backend cannot perform (for example mid-stream keyword updates).
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and recognition hints for a new
// stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Capture converts browser audio
	// to 16000 before it reaches a provider.
	SampleRate int

	// Channels is the number of interleaved channels. Capture always sends mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// Empty lets the provider apply its default.
	Language string

	// Keywords are vocabulary hints such as the doctor's name or clinic terms
	// that would otherwise be misrecognised.
	Keywords []KeywordBoost
}

// SessionHandle is an open transcription stream.
//
// Callers must call Close when done; Close flushes buffered audio, so a final
// transcript may still be delivered after Close is called and before the
// Finals channel is closed. Calling Close more than once returns nil.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM matching the StreamConfig. Returns an
	// error after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the stream ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the stream ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the keyword hints. Backends that cannot update
	// hints mid-stream return an error wrapping [ErrNotSupported].
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the stream and releases its resources.
	Close() error
}

// Provider opens transcription streams.
type Provider interface {
	// StartStream opens a new stream. The caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
