// Package app wires the voice booking service together.
//
// New builds the archive, the initiation guard, the WebSocket gateway, and
// the health and metrics endpoints from the config. Run serves HTTP until
// its context ends and then shuts down: readiness starts failing, live
// voice sessions are closed (archiving their transcripts), the server
// drains, and the stores are closed.
//
// Tests inject doubles with the With* options; anything not injected is
// created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medconnect/internal/archive"
	"github.com/MrWong99/medconnect/internal/archive/postgres"
	"github.com/MrWong99/medconnect/internal/config"
	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/internal/gateway"
	"github.com/MrWong99/medconnect/internal/health"
	"github.com/MrWong99/medconnect/internal/initguard"
	"github.com/MrWong99/medconnect/internal/observe"
	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

// Providers holds the external capabilities built by main from the config.
type Providers struct {
	// Dialogue is the dialogue backend, usually a fallback group of REST
	// clients. Required.
	Dialogue dialogue.Backend

	// STT is the speech recogniser. Nil disables speech capture.
	STT stt.Provider
}

// App owns the HTTP server and every long-lived subsystem.
type App struct {
	cfg       *config.Config
	providers *Providers

	archiver archive.Archiver
	guard    initguard.Guard
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	checkers []health.Checker

	sessions *SessionManager
	gateway  *gateway.Handler
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithArchiver injects a transcript archive instead of connecting to the
// configured database.
func WithArchiver(a archive.Archiver) Option {
	return func(app *App) { app.archiver = a }
}

// WithGuard injects an initiation guard instead of the configured backend.
func WithGuard(g initguard.Guard) Option {
	return func(app *App) { app.guard = g }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(app *App) { app.metrics = m }
}

// WithLogLevel hands the App the level variable of the process logger so
// config reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(app *App) { app.logLevel = lv }
}

// WithHealthChecker adds a readiness check.
func WithHealthChecker(c health.Checker) Option {
	return func(app *App) { app.checkers = append(app.checkers, c) }
}

// New builds an App. On error every resource opened so far is closed.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Dialogue == nil {
		return nil, errors.New("app: a dialogue backend is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initArchive(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}
	a.initGuard()

	a.sessions = NewSessionManager(a.metrics)
	a.gateway = gateway.New(gateway.Config{
		Backend:         providers.Dialogue,
		STT:             providers.STT,
		Guard:           a.guard,
		Archiver:        a.archiver,
		Sessions:        a.sessions,
		Metrics:         a.metrics,
		Capture:         cfg.Capture,
		TurnsPerMinute:  cfg.Gateway.MaxTurnsPerMinute,
		AllowedOrigins:  cfg.Gateway.AllowedOrigins,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
	})
	a.health = health.New(a.checkers...)

	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Gateway.Path, a.gateway)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.archiver != nil {
		return nil
	}
	if a.cfg.Archive.PostgresDSN == "" {
		a.archiver = archive.Nop{}
		return nil
	}
	store, err := postgres.New(ctx, a.cfg.Archive.PostgresDSN)
	if err != nil {
		return err
	}
	a.archiver = store
	a.checkers = append(a.checkers, health.Checker{Name: "archive", Check: store.Ping})
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	slog.Info("transcript archive connected")
	return nil
}

func (a *App) initGuard() {
	if a.guard != nil {
		return
	}
	if a.cfg.Guard.Backend != config.GuardRedis {
		a.guard = initguard.NewMemory()
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Guard.RedisAddr,
		Password: a.cfg.Guard.RedisPassword,
		DB:       a.cfg.Guard.RedisDB,
	})
	a.guard = initguard.NewRedis(client, initguard.WithTTL(a.cfg.Guard.TTL))
	a.checkers = append(a.checkers, health.Checker{Name: "guard", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}})
	a.closers = append(a.closers, client.Close)
	slog.Info("initiation guard uses redis", "addr", a.cfg.Guard.RedisAddr)
}

// Handler returns the root HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves HTTP until ctx is done, then shuts down within the configured
// shutdown timeout. It returns ctx's error after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	slog.Info("voice service listening", "addr", a.cfg.Server.ListenAddr, "ws_path", a.cfg.Gateway.Path)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable part of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(observe.ParseLevel(string(d.NewLogLevel)))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CaptureChanged {
		a.gateway.SetCapture(d.NewCapture)
		slog.Info("capture settings changed; new connections use them")
	}
	if d.TurnLimitChanged {
		a.gateway.SetTurnLimit(d.NewTurnLimit)
		slog.Info("turn limit changed", "max_turns_per_minute", d.NewTurnLimit)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops the service. Only the first call does anything. If ctx
// expires the remaining steps are skipped and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_sessions", a.sessions.Count())
		a.health.SetDraining()

		if err := a.sessions.CloseAll(ctx); err != nil {
			slog.Warn("voice sessions did not all close", "err", err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
			shutdownErr = err
		}
		if ctx.Err() != nil {
			slog.Warn("shutdown deadline exceeded", "remaining_closers", len(a.closers))
			shutdownErr = ctx.Err()
			return
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
