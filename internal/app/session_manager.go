package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medconnect/internal/gateway"
	"github.com/MrWong99/medconnect/internal/observe"
)

type trackedSession struct {
	info  gateway.SessionInfo
	close func(ctx context.Context) error
}

// SessionManager tracks every live voice connection. It implements
// [gateway.Sessions]. All methods are safe for concurrent use.
type SessionManager struct {
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]trackedSession
	closing  bool
}

// NewSessionManager returns an empty SessionManager. A nil m uses
// [observe.DefaultMetrics].
func NewSessionManager(m *observe.Metrics) *SessionManager {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{metrics: m, sessions: make(map[string]trackedSession)}
}

// Add registers a connection. It fails with [gateway.ErrShuttingDown] once
// [SessionManager.CloseAll] was called.
func (sm *SessionManager) Add(info gateway.SessionInfo, close func(ctx context.Context) error) (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closing {
		return nil, gateway.ErrShuttingDown
	}
	if _, dup := sm.sessions[info.ConnectionID]; dup {
		return nil, fmt.Errorf("app: connection %q already tracked", info.ConnectionID)
	}
	sm.sessions[info.ConnectionID] = trackedSession{info: info, close: close}
	sm.metrics.ActiveSessions.Add(context.Background(), 1)

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			delete(sm.sessions, info.ConnectionID)
			sm.mu.Unlock()
			sm.metrics.ActiveSessions.Add(context.Background(), -1)
		})
	}, nil
}

// Count returns the number of live connections.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// List returns the live connections, oldest first.
func (sm *SessionManager) List() []gateway.SessionInfo {
	sm.mu.Lock()
	out := make([]gateway.SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s.info)
	}
	sm.mu.Unlock()
	slices.SortFunc(out, func(a, b gateway.SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

// CloseAll refuses new connections and closes every live one concurrently,
// waiting until each has torn down or ctx is done.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mu.Lock()
	sm.closing = true
	live := make([]trackedSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		live = append(live, s)
	}
	sm.mu.Unlock()

	if len(live) == 0 {
		return nil
	}
	slog.Info("closing voice sessions", "count", len(live))

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, s := range live {
		g.Go(func() error {
			if err := s.close(ctx); err != nil {
				slog.Warn("voice session did not close cleanly",
					"connection_id", s.info.ConnectionID, "doctor_id", s.info.DoctorID, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", s.info.ConnectionID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

var _ gateway.Sessions = (*SessionManager)(nil)
