package whisper

import (
	"encoding/binary"
	"math"
)

const (
	// bitsPerSample is fixed: whisper.cpp consumes 16-bit signed PCM.
	bitsPerSample = 16

	// defaultRMSThreshold is the energy (in 16-bit sample units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0
)

// segmenter splits a PCM stream into utterances using an energy threshold.
// Leading silence is discarded; an utterance is cut after silenceMs of
// trailing silence or when the buffer reaches maxBytes. Not safe for
// concurrent use.
type segmenter struct {
	sampleRate int
	channels   int
	silenceMs  int
	maxBytes   int
	threshold  float64

	buf       []byte
	hadSpeech bool
	quietMs   int
}

func newSegmenter(sampleRate, channels, silenceMs, maxBufferMs int) *segmenter {
	bytesPerMs := sampleRate * channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	return &segmenter{
		sampleRate: sampleRate,
		channels:   channels,
		silenceMs:  silenceMs,
		maxBytes:   maxBufferMs * bytesPerMs,
		threshold:  defaultRMSThreshold,
	}
}

// push adds a chunk and returns a completed utterance, if any.
func (s *segmenter) push(chunk []byte) ([]byte, bool) {
	if computeRMS(chunk) < s.threshold {
		if !s.hadSpeech {
			return nil, false
		}
		s.quietMs += chunkDurationMs(chunk, s.sampleRate, s.channels)
		s.buf = append(s.buf, chunk...)
		if s.quietMs >= s.silenceMs {
			return s.flush()
		}
		return nil, false
	}

	s.hadSpeech = true
	s.quietMs = 0
	s.buf = append(s.buf, chunk...)
	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		return s.flush()
	}
	return nil, false
}

// flush returns whatever speech is buffered and resets the segmenter.
func (s *segmenter) flush() ([]byte, bool) {
	pcm, ok := s.buf, s.hadSpeech && len(s.buf) > 0
	s.buf = nil
	s.hadSpeech = false
	s.quietMs = 0
	if !ok {
		return nil, false
	}
	return pcm, true
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return len(chunk) * 1000 / (sampleRate * channels * (bitsPerSample / 8))
}
