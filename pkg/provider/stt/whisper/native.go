// NativeProvider needs the whisper.cpp static library and headers at link
// time (LIBRARY_PATH and C_INCLUDE_PATH).

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider with an in-process whisper.cpp model.
// The model is loaded once and shared; each utterance gets its own context.
type NativeProvider struct {
	model       whisperlib.Model
	language    string
	sampleRate  int
	silenceMs   int
	maxBufferMs int
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default recognition language.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThresholdMs sets how much trailing silence ends an
// utterance.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceMs = ms }
}

// WithNativeMaxBufferDurationMs caps the audio buffered for one utterance.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxBufferMs = ms }
}

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:       model,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		silenceMs:   defaultSilenceThresholdMs,
		maxBufferMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// StartStream opens a stream transcribed in-process.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return startBatchStream(ctx, resolve(cfg, p.language, p.sampleRate, p.silenceMs, p.maxBufferMs, p.infer))
}

// infer runs the model over pcm. whisper.cpp expects 16 kHz mono float32;
// capture already delivers 16 kHz so only the channel mixdown happens here.
func (p *NativeProvider) infer(ctx context.Context, pcm []byte, _ int, channels int, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", language, "err", err)
	}
	if err := wctx.Process(pcmToFloat32Mono(pcm, channels), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
