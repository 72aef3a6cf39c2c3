// Package whisper provides speech-to-text backed by whisper.cpp.
//
// whisper.cpp is a batch engine, so both providers in this package buffer the
// incoming PCM, cut utterances with an energy-based silence detector, and
// transcribe each utterance as a unit. Provider talks to a whisper-server over
// HTTP (POST /inference); NativeProvider runs the model in-process through the
// CGO bindings.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithSilenceThresholdMs(600))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty uses the
// server's loaded model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the sample rate assumed when a StreamConfig leaves it
// zero. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
// Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceMs = ms }
}

// WithMaxBufferDurationMs caps the audio buffered for one utterance. Defaults
// to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferMs = ms }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL   string
	model       string
	language    string
	sampleRate  int
	silenceMs   int
	maxBufferMs int
	httpClient  *http.Client
}

// New returns a Provider for the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server url must not be empty")
	}
	p := &Provider{
		serverURL:   strings.TrimRight(serverURL, "/"),
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		silenceMs:   defaultSilenceThresholdMs,
		maxBufferMs: defaultMaxBufferDurationMs,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a stream. No request is made until the first utterance
// is cut.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return startBatchStream(ctx, resolve(cfg, p.language, p.sampleRate, p.silenceMs, p.maxBufferMs, p.infer))
}

func resolve(cfg stt.StreamConfig, lang string, rate, silenceMs, maxBufferMs int, fn transcribeFunc) streamConfig {
	sc := streamConfig{
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		language:    cfg.Language,
		silenceMs:   silenceMs,
		maxBufferMs: maxBufferMs,
		transcribe:  fn,
	}
	if sc.sampleRate <= 0 {
		sc.sampleRate = rate
	}
	if sc.channels <= 0 {
		sc.channels = 1
	}
	if sc.language == "" {
		sc.language = lang
	}
	return sc
}

// infer uploads pcm as a WAV file to /inference and returns the text.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, sampleRate, channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{"response_format": "json", "language": language, "model": p.model}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response: %w", err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
