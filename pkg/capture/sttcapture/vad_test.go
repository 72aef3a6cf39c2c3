package sttcapture

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/medconnect/pkg/audio"
	"github.com/MrWong99/medconnect/pkg/capture"
	sttmock "github.com/MrWong99/medconnect/pkg/provider/stt/mock"
	"github.com/MrWong99/medconnect/pkg/provider/vad"
	vadmock "github.com/MrWong99/medconnect/pkg/provider/vad/mock"
)

var vadCfg = vad.Config{FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.3, MinSilenceMs: 40}

func monoFrame(level int16) audio.AudioFrame {
	data := make([]byte, 640)
	for i := 0; i < len(data); i += 2 {
		v := level
		if (i/2)%2 == 1 {
			v = -level
		}
		binary.LittleEndian.PutUint16(data[i:], uint16(v))
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

func TestCapture_VADEndsCycleAfterSpeech(t *testing.T) {
	vs := &vadmock.Session{Events: []vad.VADEvent{
		{Type: vad.VADSpeechStart},
		{Type: vad.VADSpeechEnd},
	}}
	engine := &vadmock.Engine{Session: vs}
	sess := sttmock.NewSession()
	sess.OnClose = func(s *sttmock.Session) { s.EmitFinal("next Monday please") }
	src := NewFrameSource(8)
	c := newCapture(t, &sttmock.Provider{Session: sess}, src, WithVAD(engine, vadCfg))

	_ = c.Start(context.Background())
	expectKinds(t, c, capture.Started)
	src.Push(monoFrame(8000))
	src.Push(monoFrame(0))

	evs := expectKinds(t, c, capture.Utterance, capture.Ended)
	if evs[0].Text != "next Monday please" {
		t.Errorf("utterance = %q", evs[0].Text)
	}
	if got := engine.Calls(); len(got) != 1 || got[0].SampleRate != 16000 {
		t.Errorf("vad configs = %+v", got)
	}
	if n := len(vs.Frames()); n != 2 {
		t.Errorf("vad frames = %d, want 2", n)
	}
	if vs.CloseCalls() != 1 {
		t.Errorf("vad close calls = %d, want 1", vs.CloseCalls())
	}
}

func TestCapture_VADIgnoresEndWithoutSpeech(t *testing.T) {
	vs := &vadmock.Session{Events: []vad.VADEvent{{Type: vad.VADSpeechEnd}}}
	src := NewFrameSource(8)
	c := newCapture(t, &sttmock.Provider{}, src, WithVAD(&vadmock.Engine{Session: vs}, vadCfg))

	_ = c.Start(context.Background())
	expectKinds(t, c, capture.Started)
	src.Push(monoFrame(0))
	src.Push(monoFrame(0))
	deadline := time.Now().Add(2 * time.Second)
	for len(vs.Frames()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("frames never reached the detector")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = c.Stop()
	expectKinds(t, c, capture.Ended)
}

func TestCapture_EnergyVADEndsCycle(t *testing.T) {
	sess := sttmock.NewSession()
	sess.OnClose = func(s *sttmock.Session) { s.EmitFinal("ten o'clock") }
	src := NewFrameSource(16)
	c := newCapture(t, &sttmock.Provider{Session: sess}, src, WithVAD(vad.Energy{}, vadCfg))

	_ = c.Start(context.Background())
	expectKinds(t, c, capture.Started)
	for range 3 {
		src.Push(monoFrame(6000))
	}
	for range 2 {
		src.Push(monoFrame(0))
	}
	evs := expectKinds(t, c, capture.Utterance, capture.Ended)
	if evs[0].Text != "ten o'clock" {
		t.Errorf("utterance = %q", evs[0].Text)
	}
}

func TestCapture_VADSessionErrorDisablesDetection(t *testing.T) {
	engine := &vadmock.Engine{NewSessionErr: vad.ErrClosed}
	c := newCapture(t, &sttmock.Provider{}, NewFrameSource(8), WithVAD(engine, vadCfg))
	_ = c.Start(context.Background())
	expectKinds(t, c, capture.Started)
	_ = c.Stop()
	expectKinds(t, c, capture.Ended)
}
