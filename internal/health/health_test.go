package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func fetch(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "archive", Check: func(context.Context) error { return errors.New("down") }})
	code, body := fetch(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "archive", Check: ok}, {Name: "guard", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"archive": "ok", "guard": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "archive", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "guard", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"archive": "fail: connection refused", "guard": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := fetch(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for k, v := range tc.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckerSeesDeadline(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		if !ok || time.Until(dl) > checkTimeout {
			return errors.New("no deadline")
		}
		return nil
	}})
	if code, body := fetch(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d %+v", code, body)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	called := false
	h := New(Checker{Name: "archive", Check: func(context.Context) error { called = true; return nil }})
	h.SetDraining()

	code, body := fetch(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("readyz = %d %q, want 503 draining", code, body.Status)
	}
	if called {
		t.Error("checkers ran while draining")
	}
	if code, _ := fetch(t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", code)
	}
}
