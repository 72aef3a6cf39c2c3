package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

// tone returns n mono samples of a 440 Hz sine at 16 kHz, far above the
// silence threshold.
func tone(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(n int) []byte { return make([]byte, n*2) }

func TestSegmenter_LeadingSilenceDiscarded(t *testing.T) {
	s := newSegmenter(16000, 1, 100, 10_000)
	for range 10 {
		if _, ok := s.push(silence(1600)); ok {
			t.Fatal("silence alone produced an utterance")
		}
	}
	if _, ok := s.flush(); ok {
		t.Error("flush after pure silence produced an utterance")
	}
}

func TestSegmenter_CutsAfterTrailingSilence(t *testing.T) {
	s := newSegmenter(16000, 1, 100, 10_000)
	if _, ok := s.push(tone(1600)); ok {
		t.Fatal("cut during speech")
	}
	// 50 ms of silence is not enough.
	if _, ok := s.push(silence(800)); ok {
		t.Fatal("cut before silence threshold")
	}
	pcm, ok := s.push(silence(800))
	if !ok {
		t.Fatal("expected cut after 100 ms of silence")
	}
	if want := (1600 + 800 + 800) * 2; len(pcm) != want {
		t.Errorf("utterance length = %d, want %d", len(pcm), want)
	}
	if _, ok := s.flush(); ok {
		t.Error("segmenter should be empty after a cut")
	}
}

func TestSegmenter_MaxBufferForcesCut(t *testing.T) {
	// 100 ms cap at 32 bytes/ms.
	s := newSegmenter(16000, 1, 1000, 100)
	if _, ok := s.push(tone(800)); ok {
		t.Fatal("cut below max buffer")
	}
	if _, ok := s.push(tone(800)); !ok {
		t.Fatal("expected forced cut at max buffer")
	}
}

func TestComputeRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: silence(100), want: 0},
		{name: "constant", pcm: []byte{0x10, 0x27, 0x10, 0x27}, want: 10000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := computeRMS(tc.pcm); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("computeRMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	wav := encodeWAV(make([]byte, 320), 16000, 1)
	if len(wav) != 44+320 {
		t.Fatalf("len = %d, want %d", len(wav), 44+320)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("unexpected chunk ids in header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
}

func TestPcmToFloat32Mono(t *testing.T) {
	stereo := make([]byte, 8)
	binary.LittleEndian.PutUint16(stereo[0:], uint16(16384))
	binary.LittleEndian.PutUint16(stereo[2:], 0)
	v := int16(-32768)
	binary.LittleEndian.PutUint16(stereo[4:], uint16(v))
	binary.LittleEndian.PutUint16(stereo[6:], uint16(v))

	got := pcmToFloat32Mono(stereo, 2)
	want := []float32{0.25, -1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}
