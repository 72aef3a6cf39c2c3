package vad

import (
	"encoding/binary"
	"math"
)

// defaultReference is the RMS level, in 16-bit sample units, treated as
// certain speech. Close-talking microphones put conversational speech
// around -20 dBFS.
const defaultReference = 3000

// Energy is an Engine that scores frames by their RMS level. It needs no
// model and works well for headset and laptop microphones in quiet rooms.
type Energy struct {
	// Reference is the RMS level that maps to probability 1. Default: 3000.
	Reference float64
}

// NewSession validates cfg and returns a session.
func (e Energy) NewSession(cfg Config) (SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ref := e.Reference
	if ref <= 0 {
		ref = defaultReference
	}
	return &energySession{cfg: cfg, ref: ref, frameBytes: cfg.FrameBytes()}, nil
}

type energySession struct {
	cfg        Config
	ref        float64
	frameBytes int

	speaking bool
	silentMs int
	closed   bool
}

// ProcessFrame classifies one frame by its RMS energy.
func (s *energySession) ProcessFrame(frame []byte) (VADEvent, error) {
	if s.closed {
		return VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return VADEvent{}, ErrFrameSize
	}

	p := min(rms(frame)/s.ref, 1)
	ev := VADEvent{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.SpeechThreshold:
		s.speaking = true
		s.silentMs = 0
		ev.Type = VADSpeechStart
	case !s.speaking:
		ev.Type = VADSilence
	case p < s.cfg.SilenceThreshold:
		s.silentMs += s.cfg.FrameSizeMs
		if s.silentMs >= s.cfg.MinSilenceMs {
			s.speaking = false
			s.silentMs = 0
			ev.Type = VADSpeechEnd
		} else {
			ev.Type = VADSpeechContinue
		}
	default:
		s.silentMs = 0
		ev.Type = VADSpeechContinue
	}
	return ev, nil
}

// Reset forgets the current speech state.
func (s *energySession) Reset() {
	s.speaking = false
	s.silentMs = 0
}

// Close marks the session closed. Later frames return [ErrClosed].
func (s *energySession) Close() error {
	s.closed = true
	return nil
}

func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

var _ Engine = Energy{}
