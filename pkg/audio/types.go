// Package audio holds the PCM frame type that flows from a caller's
// microphone to speech recognition, plus format conversion helpers.
//
// All PCM in this package is 16-bit signed little-endian, interleaved when
// multi-channel.
package audio

import (
	"fmt"
	"time"
)

// AudioFrame is one chunk of captured PCM.
type AudioFrame struct {
	// Data is 16-bit little-endian PCM, interleaved by channel.
	Data []byte

	// SampleRate in Hz (48000 from browser Opus, 16000 for STT).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is what every speech-to-text provider receives.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate >= 8000 && f.SampleRate <= 192000 && f.Channels >= 1 && f.Channels <= 8
}

// Duration returns how long n bytes of PCM in this format play for.
func (f Format) Duration(n int) time.Duration {
	bytesPerSec := f.SampleRate * f.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSec))
}

// String formats f as "48000Hz stereo" and the like.
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
