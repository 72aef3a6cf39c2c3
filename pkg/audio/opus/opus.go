// Package opus decodes Opus packets sent by browser clients into PCM frames.
//
// Browsers record Opus at 48 kHz. Packets are decoded at the client's
// declared channel count; downstream conversion to the speech-to-text format
// is left to audio.FormatConverter.
package opus

import (
	"errors"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/medconnect/pkg/audio"
)

// SampleRate is the only rate the decoder produces.
const SampleRate = 48000

// maxFrameSize is the per-channel sample count of the longest Opus frame
// (120 ms at 48 kHz).
const maxFrameSize = SampleRate * 120 / 1000

// ErrEmptyPacket is returned for zero-length input.
var ErrEmptyPacket = errors.New("opus: empty packet")

// Decoder turns a stream of Opus packets into audio frames. Keep one per
// stream; decoder state carries across packets. Not safe for concurrent use.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
	elapsed  time.Duration
}

// NewDecoder returns a decoder for 1 or 2 channel streams.
func NewDecoder(channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Decode decodes one packet. The frame timestamp is the running stream
// offset.
func (d *Decoder) Decode(packet []byte) (audio.AudioFrame, error) {
	if len(packet) == 0 {
		return audio.AudioFrame{}, ErrEmptyPacket
	}
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("opus: decode: %w", err)
	}
	frame := audio.AudioFrame{
		Data:       samplesToBytes(pcm),
		SampleRate: SampleRate,
		Channels:   d.channels,
		Timestamp:  d.elapsed,
	}
	d.elapsed += frame.Duration()
	return frame, nil
}

func samplesToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
