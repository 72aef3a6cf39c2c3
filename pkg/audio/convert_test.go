package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/medconnect/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "stereo", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "stereo extremes", in: []int16{32767, 32767, -32768, -32768}, channels: 2, want: []int16{32767, -32768}},
		{name: "three channels", in: []int16{30, 60, 90}, channels: 3, want: []int16{60}},
		{name: "mono passthrough", in: []int16{1, 2}, channels: 1, want: []int16{1, 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := bytesToSamples(audio.Downmix(samplesToBytes(tc.in), tc.channels))
			if !slices.Equal(got, tc.want) {
				t.Errorf("Downmix = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMonoToStereo(t *testing.T) {
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200})))
	want := []int16{100, 100, -200, -200}
	if !slices.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestResample16(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		pcm := samplesToBytes([]int16{1, 2, 3})
		if out := audio.Resample16(pcm, 1, 16000, 16000); len(out) != len(pcm) {
			t.Errorf("len = %d, want %d", len(out), len(pcm))
		}
	})
	t.Run("downsample 48k to 16k", func(t *testing.T) {
		in := make([]int16, 960)
		for i := range in {
			in[i] = int16(i)
		}
		got := bytesToSamples(audio.Resample16(samplesToBytes(in), 1, 48000, 16000))
		if len(got) != 320 {
			t.Fatalf("samples = %d, want 320", len(got))
		}
		if got[0] != 0 || got[1] != 3 || got[319] != 957 {
			t.Errorf("unexpected samples: first=%d second=%d last=%d", got[0], got[1], got[319])
		}
	})
	t.Run("upsample interpolates", func(t *testing.T) {
		got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{0, 100}), 1, 8000, 16000))
		want := []int16{0, 50, 100, 100}
		if !slices.Equal(got, want) {
			t.Errorf("Resample16 = %v, want %v", got, want)
		}
	})
	t.Run("stereo keeps channels apart", func(t *testing.T) {
		got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{0, 1000, 100, 1000}), 2, 8000, 16000))
		want := []int16{0, 1000, 50, 1000, 100, 1000, 100, 1000}
		if !slices.Equal(got, want) {
			t.Errorf("Resample16 = %v, want %v", got, want)
		}
	})
	t.Run("zero rate", func(t *testing.T) {
		pcm := samplesToBytes([]int16{1, 2})
		if out := audio.Resample16(pcm, 1, 0, 16000); len(out) != len(pcm) {
			t.Errorf("expected unchanged output for zero rate")
		}
	})
}

func TestFormatConverter(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.STTFormat}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{5, 6}), SampleRate: 16000, Channels: 1}
		out := conv.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("matching format should not copy")
		}
	})
	t.Run("48k stereo to stt", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.STTFormat}
		stereo := make([]int16, 960*2)
		for i := range stereo {
			stereo[i] = 300
		}
		out := conv.Convert(audio.AudioFrame{
			Data:       samplesToBytes(stereo),
			SampleRate: 48000,
			Channels:   2,
			Timestamp:  time.Second,
		})
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Fatalf("format = %s, want %s", out.Format(), audio.STTFormat)
		}
		if got := out.Duration(); got != 20*time.Millisecond {
			t.Errorf("duration = %v, want 20ms", got)
		}
		if out.Timestamp != time.Second {
			t.Errorf("timestamp = %v, want 1s", out.Timestamp)
		}
		for i, s := range bytesToSamples(out.Data) {
			if s != 300 {
				t.Fatalf("sample %d = %d, want 300", i, s)
			}
		}
	})
	t.Run("misaligned frame dropped", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.STTFormat}
		out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3, 4, 5, 6}, SampleRate: 48000, Channels: 2})
		if out.Data != nil {
			t.Errorf("expected nil data for misaligned stereo frame, got %d bytes", len(out.Data))
		}
	})
	t.Run("mono to stereo", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 2}}
		out := conv.Convert(audio.AudioFrame{Data: samplesToBytes([]int16{7}), SampleRate: 16000, Channels: 1})
		if got := bytesToSamples(out.Data); !slices.Equal(got, []int16{7, 7}) {
			t.Errorf("samples = %v, want [7 7]", got)
		}
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		f     audio.Format
		valid bool
		str   string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, true, "48000Hz stereo"},
		{audio.STTFormat, true, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, true, "44100Hz 6ch"},
		{audio.Format{SampleRate: 100, Channels: 1}, false, "100Hz mono"},
		{audio.Format{SampleRate: 16000, Channels: 0}, false, "16000Hz 0ch"},
	}
	for _, tc := range tests {
		if got := tc.f.Valid(); got != tc.valid {
			t.Errorf("%v Valid() = %v, want %v", tc.f, got, tc.valid)
		}
		if got := tc.f.String(); got != tc.str {
			t.Errorf("String() = %q, want %q", got, tc.str)
		}
	}
	if got := audio.STTFormat.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
}
