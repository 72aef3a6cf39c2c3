// Package deepgram implements stt.Provider on top of the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3-medical"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// endpointingMS is how long Deepgram waits after speech before committing a
	// final. Booking answers are short so a tight window keeps turns snappy.
	endpointingMS = 300
)

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("deepgram: session is closed")

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "nova-3-medical").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the sample rate used when a StreamConfig leaves it zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the streaming endpoint. Must be a ws:// or wss:// URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider opens Deepgram streaming sessions.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New returns a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The stream outlives the dial context; Close ends it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop(streamCtx)
	go s.readLoop(streamCtx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.Itoa(endpointingMS))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// result is the subset of a Deepgram "Results" message we consume.
type result struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// SendAudio streams chunk to Deepgram as a binary frame.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

// Partials returns interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords always fails: keywords are fixed when the stream is dialled.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: keyword update: %w", stt.ErrNotSupported)
}

// Close flushes queued audio, asks Deepgram to finalise, and waits briefly
// for the trailing results before tearing the connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		select {
		case <-s.readDone:
		case <-ctx.Done():
		}
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseResult(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return
		}
	}
}

// parseResult decodes a Deepgram message. ok is false for anything that is
// not a Results message with at least one alternative.
func parseResult(data []byte) (stt.Transcript, bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return stt.Transcript{}, false
	}
	if r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := r.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(r.Start),
		Duration:   seconds(r.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
