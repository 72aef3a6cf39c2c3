// Package gateway serves the voice booking WebSocket endpoint.
//
// Each connection owns one [voice.Controller] for the doctor named in the
// query string. Binary frames carry microphone audio (raw 16-bit PCM or Opus
// packets), text frames carry JSON commands. The server pushes every
// conversation and state change back as JSON. Closing the connection tears
// the controller down.
//
// Query parameters:
//
//	doctorId    required
//	doctorName  display name, also used as a recognition hint
//	clientId    identifies the caller for the initiation guard; random if absent
//	codec       pcm16 (default) or opus
//	sampleRate  PCM rate in Hz; opus is always 48000
//	channels    1 (default) or 2
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/medconnect/internal/archive"
	"github.com/MrWong99/medconnect/internal/config"
	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/internal/initguard"
	"github.com/MrWong99/medconnect/internal/observe"
	"github.com/MrWong99/medconnect/pkg/audio"
	"github.com/MrWong99/medconnect/pkg/audio/opus"
	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

const (
	codecPCM16 = "pcm16"
	codecOpus  = "opus"

	defaultPCMRate = 16000
	writeTimeout   = 10 * time.Second
	outboxSize     = 64
)

// ErrShuttingDown is returned by [Sessions.Add] once shutdown began.
var ErrShuttingDown = errors.New("gateway: shutting down")

// SessionInfo describes one live connection.
type SessionInfo struct {
	ConnectionID string
	ClientID     string
	DoctorID     string
	StartedAt    time.Time
}

// Sessions tracks live connections so shutdown can close them. close ends
// the connection and waits for its teardown or ctx.
type Sessions interface {
	Add(info SessionInfo, close func(ctx context.Context) error) (remove func(), err error)
}

// Config holds the dependencies of a [Handler].
type Config struct {
	// Backend is the dialogue backend. Required.
	Backend dialogue.Backend

	// STT recognises speech. Nil disables speech capture; callers can still
	// type.
	STT stt.Provider

	// Guard serialises initiation per caller. Default: [initguard.NewMemory].
	Guard initguard.Guard

	Archiver archive.Archiver
	Sessions Sessions
	Metrics  *observe.Metrics

	Capture         config.CaptureConfig
	TurnsPerMinute  int
	AllowedOrigins  []string
	MaxMessageBytes int64
}

// Handler is the WebSocket endpoint. Create one with [New].
type Handler struct {
	cfg Config

	capture   atomic.Pointer[config.CaptureConfig]
	turnLimit atomic.Int64
}

// New returns a Handler.
func New(cfg Config) *Handler {
	if cfg.Guard == nil {
		cfg.Guard = initguard.NewMemory()
	}
	if cfg.Archiver == nil {
		cfg.Archiver = archive.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	h := &Handler{cfg: cfg}
	h.SetCapture(cfg.Capture)
	h.SetTurnLimit(cfg.TurnsPerMinute)
	return h
}

// SetCapture replaces the capture tuning used by new connections.
func (h *Handler) SetCapture(cc config.CaptureConfig) {
	h.capture.Store(&cc)
}

// SetTurnLimit changes the per-connection limit on start and text commands.
// Live connections pick it up on their next command. A non-positive value
// disables the limit.
func (h *Handler) SetTurnLimit(perMinute int) {
	h.turnLimit.Store(int64(perMinute))
}

type params struct {
	doctorID   string
	doctorName string
	clientID   string
	codec      string
	format     audio.Format
}

func parseParams(q url.Values) (params, error) {
	p := params{
		doctorID:   q.Get("doctorId"),
		doctorName: q.Get("doctorName"),
		clientID:   q.Get("clientId"),
		codec:      q.Get("codec"),
	}
	if p.doctorID == "" {
		return p, errors.New("doctorId is required")
	}
	if p.clientID == "" {
		p.clientID = uuid.NewString()
	}

	rate, channels := 0, 1
	if v := q.Get("sampleRate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("sampleRate %q is not a number", v)
		}
		rate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("channels %q is not a number", v)
		}
		channels = n
	}

	switch p.codec {
	case "", codecPCM16:
		p.codec = codecPCM16
		if rate == 0 {
			rate = defaultPCMRate
		}
	case codecOpus:
		if rate != 0 && rate != opus.SampleRate {
			return p, fmt.Errorf("opus streams must use sampleRate %d", opus.SampleRate)
		}
		if channels != 1 && channels != 2 {
			return p, errors.New("opus streams must be mono or stereo")
		}
		rate = opus.SampleRate
	default:
		return p, fmt.Errorf("codec %q is not supported; use pcm16 or opus", p.codec)
	}

	p.format = audio.Format{SampleRate: rate, Channels: channels}
	if !p.format.Valid() {
		return p, fmt.Errorf("audio format %s is not supported", p.format)
	}
	return p, nil
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins})
	if err != nil {
		observe.Logger(r.Context()).Warn("gateway: websocket upgrade failed", "err", err)
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	c, err := newConn(h, ws, p)
	if err != nil {
		observe.Logger(r.Context()).Error("gateway: set up connection", "err", err)
		ws.Close(websocket.StatusInternalError, "could not set up the voice session")
		return
	}
	c.serve(r.Context())
}

func (h *Handler) logger(ctx context.Context, p params, connID string) *slog.Logger {
	return observe.Logger(ctx).With(
		"connection_id", connID,
		"client_id", p.clientID,
		"doctor_id", p.doctorID,
	)
}
