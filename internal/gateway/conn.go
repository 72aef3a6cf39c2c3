package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/medconnect/internal/initguard"
	"github.com/MrWong99/medconnect/internal/voice"
	"github.com/MrWong99/medconnect/pkg/audio"
	"github.com/MrWong99/medconnect/pkg/audio/opus"
	"github.com/MrWong99/medconnect/pkg/capture"
	"github.com/MrWong99/medconnect/pkg/capture/sttcapture"
	"github.com/MrWong99/medconnect/pkg/provider/stt"
	"github.com/MrWong99/medconnect/pkg/provider/vad"
)

// conn is one client connection and its controller.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	id     string
	params params
	log    *slog.Logger

	ctrl    *voice.Controller
	capt    *sttcapture.Capture
	source  *sttcapture.FrameSource
	decoder *opus.Decoder
	elapsed time.Duration

	// limiter and limit are only touched by the read loop.
	limiter *rate.Limiter
	limit   int64

	out  chan any
	ctx  context.Context
	busy sync.WaitGroup
	done chan struct{}
}

func newConn(h *Handler, ws *websocket.Conn, p params) (*conn, error) {
	c := &conn{
		h:       h,
		ws:      ws,
		id:      uuid.NewString(),
		params:  p,
		source:  sttcapture.NewFrameSource(0),
		limiter: rate.NewLimiter(rate.Inf, 1),
		out:     make(chan any, outboxSize),
		done:    make(chan struct{}),
	}
	if p.codec == codecOpus {
		dec, err := opus.NewDecoder(p.format.Channels)
		if err != nil {
			return nil, err
		}
		c.decoder = dec
	}

	cc := h.capture.Load()
	keywords := make([]stt.KeywordBoost, 0, len(cc.Keywords)+1)
	if p.doctorName != "" {
		keywords = append(keywords, stt.KeywordBoost{Keyword: p.doctorName, Boost: 2})
	}
	for _, kw := range cc.Keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost})
	}
	opts := []sttcapture.Option{sttcapture.WithKeywords(keywords)}
	if cc.NoSpeechTimeout > 0 {
		opts = append(opts, sttcapture.WithNoSpeechTimeout(cc.NoSpeechTimeout))
	}
	if cc.MaxUtterance > 0 {
		opts = append(opts, sttcapture.WithMaxUtterance(cc.MaxUtterance))
	}
	if cc.FlushTimeout > 0 {
		opts = append(opts, sttcapture.WithFlushTimeout(cc.FlushTimeout))
	}
	if cc.Language != "" {
		opts = append(opts, sttcapture.WithLanguage(cc.Language))
	}
	if cc.EndOfSpeech > 0 {
		opts = append(opts, sttcapture.WithVAD(vad.Energy{}, vad.Config{
			FrameSizeMs:      20,
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.3,
			MinSilenceMs:     int(cc.EndOfSpeech.Milliseconds()),
		}))
	}
	c.capt = sttcapture.New(h.cfg.STT, c.source, opts...)

	c.ctrl = voice.New(h.cfg.Backend, c.capt, p.doctorID,
		voice.WithDoctorName(p.doctorName),
		voice.WithObserver(c),
		voice.WithArchiver(h.cfg.Archiver),
		voice.WithMetrics(h.cfg.Metrics),
		voice.WithOnComplete(func(result map[string]any) {
			c.send(bookingMsg{Type: "booking", Result: result})
		}),
	)
	return c, nil
}

func (c *conn) serve(reqCtx context.Context) {
	defer close(c.done)
	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()
	c.ctx = ctx
	c.log = c.h.logger(ctx, c.params, c.id)

	release, err := c.h.cfg.Guard.Acquire(ctx, initguard.Key(c.params.clientID, c.params.doctorID))
	if err != nil {
		c.capt.Close()
		if errors.Is(err, initguard.ErrHeld) {
			c.log.Info("gateway: initiation already in progress for caller")
			c.ws.Close(websocket.StatusPolicyViolation, "a voice session for this doctor is already open")
			return
		}
		c.log.Error("gateway: acquire initiation guard", "err", err)
		c.ws.Close(websocket.StatusInternalError, "session guard unavailable")
		return
	}
	defer release()

	if s := c.h.cfg.Sessions; s != nil {
		remove, err := s.Add(SessionInfo{
			ConnectionID: c.id,
			ClientID:     c.params.clientID,
			DoctorID:     c.params.doctorID,
			StartedAt:    time.Now(),
		}, c.shutdown(cancel))
		if err != nil {
			c.capt.Close()
			c.ws.Close(websocket.StatusTryAgainLater, "server is shutting down")
			return
		}
		defer remove()
	}

	c.log.Info("gateway: voice connection opened", "codec", c.params.codec, "format", c.params.format.String())
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	c.ctx = gctx
	c.send(helloMsg{
		Type:         "hello",
		ConnectionID: c.id,
		DoctorID:     c.params.doctorID,
		DoctorName:   c.params.doctorName,
	})
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.ctrl.Run(gctx) })
	g.Go(func() error {
		// A refused Initiate leaves the connection usable.
		if err := c.ctrl.Initiate(gctx); err != nil {
			c.log.Debug("gateway: initiate refused", "err", err)
		}
		return nil
	})

	c.readLoop(gctx)

	// Teardown: the controller first, so the transcript is archived with
	// the conversation as the caller last saw it.
	if err := c.ctrl.Close(ctx); err != nil {
		c.log.Debug("gateway: close controller", "err", err)
	}
	cancel()
	c.busy.Wait()
	c.capt.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("gateway: connection goroutine ended", "err", err)
	}
	c.ws.Close(websocket.StatusNormalClosure, "")
	c.log.Info("gateway: voice connection closed", "duration", time.Since(start).Round(time.Millisecond))
}

// shutdown returns the close function registered with Sessions.
func (c *conn) shutdown(cancel context.CancelFunc) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cancel()
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.log.Debug("gateway: client closed connection", "status", status)
			case ctx.Err() != nil:
			default:
				c.log.Info("gateway: read failed", "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(data)
		case websocket.MessageText:
			c.handleCommand(ctx, data)
		}
	}
}

func (c *conn) handleAudio(data []byte) {
	var frame audio.AudioFrame
	if c.decoder != nil {
		f, err := c.decoder.Decode(data)
		if err != nil {
			c.log.Debug("gateway: dropping undecodable opus packet", "err", err)
			return
		}
		frame = f
	} else {
		if len(data) == 0 || len(data)%(2*c.params.format.Channels) != 0 {
			c.log.Debug("gateway: dropping misaligned pcm frame", "bytes", len(data))
			return
		}
		frame = audio.AudioFrame{
			Data:       data,
			SampleRate: c.params.format.SampleRate,
			Channels:   c.params.format.Channels,
			Timestamp:  c.elapsed,
		}
		c.elapsed += frame.Duration()
	}
	c.source.Push(frame)
}

func (c *conn) handleCommand(ctx context.Context, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.send(refusedMsg{Type: "refused", Reason: "bad_command"})
		return
	}

	switch cmd.Type {
	case cmdStart:
		if !c.allowTurn() {
			c.refuse(cmd.Type, errRateLimited)
			return
		}
		c.refuse(cmd.Type, c.ctrl.StartListening(ctx))

	case cmdStop:
		if err := c.ctrl.StopListening(); err != nil {
			c.log.Warn("gateway: stop listening", "err", err)
		}

	case cmdText:
		if !c.allowTurn() {
			c.refuse(cmd.Type, errRateLimited)
			return
		}
		c.async(func() { c.refuse(cmd.Type, c.ctrl.ProcessUtterance(ctx, cmd.Text)) })

	case cmdReset:
		c.async(func() { c.refuse(cmd.Type, c.ctrl.Reset(ctx)) })

	case cmdCaptureError:
		if cmd.Code == "" {
			c.send(refusedMsg{Type: "refused", Command: cmd.Type, Reason: "bad_command"})
			return
		}
		c.capt.Abort(capture.ErrorCode(cmd.Code))

	default:
		c.send(refusedMsg{Type: "refused", Command: cmd.Type, Reason: "unknown_command"})
	}
}

// async runs fn off the read loop so audio and further commands keep
// flowing while the backend answers.
func (c *conn) async(fn func()) {
	c.busy.Add(1)
	go func() {
		defer c.busy.Done()
		fn()
	}()
}

func (c *conn) allowTurn() bool {
	if n := c.h.turnLimit.Load(); n != c.limit {
		c.limit = n
		if n <= 0 {
			c.limiter.SetLimit(rate.Inf)
		} else {
			c.limiter.SetLimit(rate.Limit(float64(n) / 60))
			c.limiter.SetBurst(int(n))
		}
	}
	return c.limiter.Allow()
}

func (c *conn) refuse(cmd string, err error) {
	if err == nil {
		return
	}
	c.log.Debug("gateway: command refused", "command", cmd, "err", err)
	c.send(refusedMsg{Type: "refused", Command: cmd, Reason: refusalReason(err)})
}

// send queues v for the client. It gives up once the connection is done.
func (c *conn) send(v any) {
	select {
	case c.out <- v:
	case <-c.ctx.Done():
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-c.out:
			b, err := json.Marshal(v)
			if err != nil {
				c.log.Error("gateway: encode server message", "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// MessageAppended implements voice.Observer.
func (c *conn) MessageAppended(m voice.Message) {
	c.send(messageMsg{Type: "message", Message: m})
}

// StateChanged implements voice.Observer.
func (c *conn) StateChanged(s voice.Snapshot) {
	c.send(newStateMsg(s))
}

// ConversationCleared implements voice.Observer.
func (c *conn) ConversationCleared() {
	c.send(clearedMsg{Type: "cleared"})
}
