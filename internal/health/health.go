// Package health serves the liveness and readiness probes of the voice
// service.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only when every registered [Checker] passes and the service is not
// draining. Both respond with {"status": "ok"|"fail"|"draining", "checks": {...}}.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Checker probes one dependency such as the archive database or the guard
// Redis.
type Checker struct {
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler evaluating checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining marks the service as shutting down. Readiness fails from then
// on so load balancers stop routing new connections here.
func (h *Handler) SetDraining() { h.draining.Store(true) }

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each bounded by checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
