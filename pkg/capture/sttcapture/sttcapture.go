// Package sttcapture implements capture.Capture on top of a speech-to-text
// provider and an audio source.
//
// Each cycle opens the source, converts its frames to the provider's format,
// and streams them into a fresh STT stream. The first non-empty final
// transcript ends the cycle as an Utterance. A cycle that hears nothing within
// the no-speech timeout fails with capture.NoSpeech. With a voice activity
// detector attached, trailing silence after speech ends the cycle like Stop.
package sttcapture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/medconnect/pkg/audio"
	"github.com/MrWong99/medconnect/pkg/capture"
	"github.com/MrWong99/medconnect/pkg/provider/stt"
	"github.com/MrWong99/medconnect/pkg/provider/vad"
)

// ErrPermissionDenied is returned by a Source whose user refused microphone
// access. Capture reports it as capture.NotAllowed.
var ErrPermissionDenied = errors.New("sttcapture: microphone permission denied")

// Source yields captured audio. The returned channel must stop delivering
// frames once ctx is done; closing it ends the cycle as if Stop was called.
type Source interface {
	Open(ctx context.Context) (<-chan audio.AudioFrame, error)
}

const (
	defaultNoSpeechTimeout = 8 * time.Second
	defaultMaxUtterance    = 30 * time.Second
	defaultFlushTimeout    = 5 * time.Second
)

// Option configures a Capture.
type Option func(*Capture)

// WithNoSpeechTimeout sets how long a cycle waits for any recognised speech.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(c *Capture) { c.noSpeech = d }
}

// WithMaxUtterance caps the length of one cycle. When it elapses the cycle
// ends as if Stop was called.
func WithMaxUtterance(d time.Duration) Option {
	return func(c *Capture) { c.maxUtterance = d }
}

// WithFlushTimeout bounds how long Stop waits for a trailing transcript.
func WithFlushTimeout(d time.Duration) Option {
	return func(c *Capture) { c.flushTimeout = d }
}

// WithLanguage sets the recognition language passed to the provider.
func WithLanguage(lang string) Option {
	return func(c *Capture) { c.language = lang }
}

// WithKeywords sets recognition hints such as the doctor's name.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(c *Capture) { c.keywords = kw }
}

// WithFormat overrides the PCM format sent to the provider.
func WithFormat(f audio.Format) Option {
	return func(c *Capture) { c.format = f }
}

// WithVAD attaches a voice activity detector that ends a cycle once speech
// is followed by cfg.MinSilenceMs of silence. cfg.SampleRate is taken from
// the provider format. Detection runs only on mono formats.
func WithVAD(engine vad.Engine, cfg vad.Config) Option {
	return func(c *Capture) {
		c.vadEngine = engine
		c.vadCfg = cfg
	}
}

// Capture is a single-shot speech capture over STT. Safe for concurrent use.
type Capture struct {
	provider     stt.Provider
	source       Source
	noSpeech     time.Duration
	maxUtterance time.Duration
	flushTimeout time.Duration
	language     string
	keywords     []stt.KeywordBoost
	format       audio.Format
	vadEngine    vad.Engine
	vadCfg       vad.Config

	events    chan capture.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	cycle  *cycle
	closed bool
}

type cycle struct {
	stop     chan struct{}
	stopOnce sync.Once
	abort    chan capture.ErrorCode
	cancel   context.CancelFunc
}

// New returns a Capture. A nil provider or source yields a Capture that
// reports itself unavailable.
func New(provider stt.Provider, source Source, opts ...Option) *Capture {
	c := &Capture{
		provider:     provider,
		source:       source,
		noSpeech:     defaultNoSpeechTimeout,
		maxUtterance: defaultMaxUtterance,
		flushTimeout: defaultFlushTimeout,
		format:       audio.STTFormat,
		events:       make(chan capture.Event, 16),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available reports whether both a speech-to-text provider and an audio
// source are configured.
func (c *Capture) Available() bool {
	return c.provider != nil && c.source != nil
}

// Events returns the channel on which recognition results and errors are
// delivered. It is closed by [Capture.Close].
func (c *Capture) Events() <-chan capture.Event { return c.events }

// Start begins a cycle bounded by ctx.
func (c *Capture) Start(ctx context.Context) error {
	if !c.Available() {
		return capture.ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return capture.ErrClosed
	}
	if c.cycle != nil {
		return capture.ErrBusy
	}

	cctx, cancel := context.WithCancel(ctx)
	cyc := &cycle{
		stop:   make(chan struct{}),
		abort:  make(chan capture.ErrorCode, 1),
		cancel: cancel,
	}
	c.cycle = cyc
	c.wg.Add(1)
	go c.run(cctx, cyc)
	return nil
}

// Stop ends the current cycle after flushing the STT stream.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != nil {
		c.cycle.stopOnce.Do(func() { close(c.cycle.stop) })
	}
	return nil
}

// Abort ends the current cycle with a client-reported error code. Without a
// cycle in flight the error is reported on its own, followed by Ended.
func (c *Capture) Abort(code capture.ErrorCode) {
	c.mu.Lock()
	cyc := c.cycle
	c.mu.Unlock()

	if cyc != nil {
		select {
		case cyc.abort <- code:
		default:
		}
		return
	}
	c.emit(capture.Event{Kind: capture.Error, Code: code})
	c.emit(capture.Event{Kind: capture.Ended})
}

// Close aborts any cycle, waits for it, and closes the event channel.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		if c.cycle != nil {
			c.cycle.cancel()
		}
		c.mu.Unlock()
		c.wg.Wait()
		close(c.events)
	})
	return nil
}

func (c *Capture) emit(e capture.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case c.events <- e:
	case <-c.done:
	}
}

func (c *Capture) fail(code capture.ErrorCode) {
	c.emit(capture.Event{Kind: capture.Error, Code: code})
}

func (c *Capture) run(ctx context.Context, cyc *cycle) {
	defer c.wg.Done()
	defer func() {
		cyc.cancel()
		c.mu.Lock()
		c.cycle = nil
		c.mu.Unlock()
		c.emit(capture.Event{Kind: capture.Ended})
	}()

	frames, err := c.source.Open(ctx)
	if err != nil {
		code := capture.AudioCapture
		if errors.Is(err, ErrPermissionDenied) {
			code = capture.NotAllowed
		}
		slog.Debug("sttcapture: open source failed", "err", err, "code", code)
		c.fail(code)
		return
	}

	stream, err := c.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Language:   c.language,
		Keywords:   c.keywords,
	})
	if err != nil {
		slog.Warn("sttcapture: start stt stream failed", "err", err)
		c.fail(capture.Network)
		return
	}
	// Every path below hands the stream to closeStream exactly once.

	c.emit(capture.Event{Kind: capture.Started})

	conv := audio.FormatConverter{Target: c.format}
	noSpeech := time.NewTimer(c.noSpeech)
	defer noSpeech.Stop()
	maxLen := time.NewTimer(c.maxUtterance)
	defer maxLen.Stop()

	det := c.newDetector()
	if det != nil {
		defer det.close()
	}

	partials, finals := stream.Partials(), stream.Finals()
	heard := false
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				c.flush(stream)
				return
			}
			f = conv.Convert(f)
			if len(f.Data) == 0 {
				continue
			}
			if err := stream.SendAudio(f.Data); err != nil {
				slog.Warn("sttcapture: send audio failed", "err", err)
				c.closeStream(stream)
				c.fail(capture.Network)
				return
			}
			if det != nil {
				speech, ended := det.feed(f.Data)
				heard = heard || speech
				if ended {
					c.flush(stream)
					return
				}
			}

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if strings.TrimSpace(t.Text) != "" {
				heard = true
			}

		case t, ok := <-finals:
			if !ok {
				slog.Warn("sttcapture: stt stream ended unexpectedly")
				c.closeStream(stream)
				c.fail(capture.Network)
				return
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				c.closeStream(stream)
				c.emit(capture.Event{Kind: capture.Utterance, Text: text})
				return
			}

		case <-noSpeech.C:
			if heard {
				continue
			}
			c.closeStream(stream)
			c.fail(capture.NoSpeech)
			return

		case <-maxLen.C:
			c.flush(stream)
			return

		case <-cyc.stop:
			c.flush(stream)
			return

		case code := <-cyc.abort:
			c.closeStream(stream)
			c.fail(code)
			return

		case <-ctx.Done():
			c.closeStream(stream)
			return
		}
	}
}

// flush closes the stream and waits for its trailing finals, emitting the
// first non-empty one as the utterance.
func (c *Capture) flush(stream stt.SessionHandle) {
	c.closeStream(stream)

	timeout := time.NewTimer(c.flushTimeout)
	defer timeout.Stop()
	for {
		select {
		case t, ok := <-stream.Finals():
			if !ok {
				return
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				c.emit(capture.Event{Kind: capture.Utterance, Text: text})
				return
			}
		case <-timeout.C:
			slog.Debug("sttcapture: flush timed out")
			return
		case <-c.done:
			return
		}
	}
}

// closeStream closes stream in the background; some backends block in Close
// until their last transcription completes.
func (c *Capture) closeStream(stream stt.SessionHandle) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := stream.Close(); err != nil {
			slog.Debug("sttcapture: close stt stream", "err", err)
		}
	}()
}

// detector chops converted audio into VAD frames for one cycle.
type detector struct {
	session    vad.SessionHandle
	frameBytes int
	buf        []byte
	speaking   bool
}

func (c *Capture) newDetector() *detector {
	if c.vadEngine == nil || c.format.Channels != 1 {
		return nil
	}
	cfg := c.vadCfg
	cfg.SampleRate = c.format.SampleRate
	s, err := c.vadEngine.NewSession(cfg)
	if err != nil {
		slog.Warn("sttcapture: vad disabled for cycle", "err", err)
		return nil
	}
	return &detector{session: s, frameBytes: cfg.FrameBytes()}
}

// feed processes pcm and reports whether speech was detected so far and
// whether a speech segment has ended.
func (d *detector) feed(pcm []byte) (speech, ended bool) {
	if d.session == nil {
		return false, false
	}
	d.buf = append(d.buf, pcm...)
	for len(d.buf) >= d.frameBytes {
		ev, err := d.session.ProcessFrame(d.buf[:d.frameBytes])
		d.buf = d.buf[d.frameBytes:]
		if err != nil {
			slog.Debug("sttcapture: vad frame failed", "err", err)
			d.close()
			return d.speaking, false
		}
		switch ev.Type {
		case vad.VADSpeechStart:
			d.speaking = true
		case vad.VADSpeechEnd:
			if d.speaking {
				return true, true
			}
		}
	}
	return d.speaking, false
}

func (d *detector) close() {
	if d.session == nil {
		return
	}
	if err := d.session.Close(); err != nil {
		slog.Debug("sttcapture: close vad session", "err", err)
	}
	d.session = nil
}

var _ capture.Capture = (*Capture)(nil)
