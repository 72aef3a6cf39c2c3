package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/medconnect/internal/dialogue"
)

// backend serves a fixed status and body on both endpoints and records the
// last request.
type backend struct {
	status int
	body   string

	lastPath   string
	lastAuth   string
	lastBody   map[string]any
	lastHeader http.Header
}

func (b *backend) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.lastPath = r.URL.Path
		b.lastAuth = r.Header.Get("Authorization")
		b.lastHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		b.lastBody = nil
		_ = json.Unmarshal(raw, &b.lastBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.status)
		_, _ = io.WriteString(w, b.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, b *backend, opts ...Option) *Client {
	t.Helper()
	srv := b.start(t)
	c, err := New(srv.URL+"/api/", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "localhost:8080"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) succeeded, want error", u)
		}
	}
}

func TestInitiate(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantID     string
		wantKind   dialogue.Kind
		wantReason string
	}{
		{
			name:   "plain body",
			status: 200,
			body:   `{"sessionId":"s-1","welcomeMessage":"Hello, I'm here to help you book."}`,
			wantID: "s-1",
		},
		{
			name:   "enveloped",
			status: 200,
			body:   `{"success":true,"message":"ok","data":{"sessionId":"s-2","welcomeMessage":"Hi"}}`,
			wantID: "s-2",
		},
		{
			name:       "missing session id",
			status:     200,
			body:       `{"welcomeMessage":"Hi"}`,
			wantKind:   dialogue.KindProtocol,
			wantReason: "Invalid response from server - no session ID received",
		},
		{
			name:       "null data",
			status:     200,
			body:       `{"success":true,"data":null}`,
			wantKind:   dialogue.KindProtocol,
			wantReason: "Invalid response from server",
		},
		{
			name:       "envelope failure with message",
			status:     200,
			body:       `{"success":false,"message":"Doctor not available for voice booking"}`,
			wantKind:   dialogue.KindTransport,
			wantReason: "Doctor not available for voice booking",
		},
		{
			name:       "envelope failure with error",
			status:     200,
			body:       `{"success":false,"error":"boom"}`,
			wantKind:   dialogue.KindTransport,
			wantReason: "boom",
		},
		{
			name:       "envelope failure bare",
			status:     200,
			body:       `{"success":false}`,
			wantKind:   dialogue.KindTransport,
			wantReason: "Request failed",
		},
		{
			name:       "http error with message",
			status:     401,
			body:       `{"message":"Token expired"}`,
			wantKind:   dialogue.KindTransport,
			wantReason: "Token expired",
		},
		{
			name:       "http error without body",
			status:     503,
			body:       ``,
			wantKind:   dialogue.KindTransport,
			wantReason: "Service Unavailable",
		},
		{
			name:       "not json",
			status:     200,
			body:       `<html>gateway</html>`,
			wantKind:   dialogue.KindProtocol,
			wantReason: "Invalid response from server",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &backend{status: tc.status, body: tc.body}
			c := newClient(t, b)
			sess, err := c.Initiate(context.Background(), dialogue.InitiateRequest{DoctorID: "doc-7"})
			if got := dialogue.KindOf(err); got != tc.wantKind {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", got, tc.wantKind, err)
			}
			if err != nil {
				if got := dialogue.Reason(err); got != tc.wantReason {
					t.Errorf("Reason = %q, want %q", got, tc.wantReason)
				}
				return
			}
			if sess.ID != tc.wantID {
				t.Errorf("session id = %q, want %q", sess.ID, tc.wantID)
			}
			if b.lastPath != "/api/voice/session/initiate" {
				t.Errorf("path = %q", b.lastPath)
			}
			if b.lastBody["doctorId"] != "doc-7" {
				t.Errorf("request body = %v", b.lastBody)
			}
		})
	}
}

func TestProcess_WellFormed(t *testing.T) {
	b := &backend{status: 200, body: `{"data":{
		"message":"Booked!",
		"sessionId":"s-9",
		"updatedData":{"name":"Ada","email":"ada@example.com"},
		"isComplete":true,
		"bookingResult":{"id":"X"}
	}}`}
	c := newClient(t, b, WithToken("tok"))

	reply, err := c.Process(context.Background(), dialogue.TurnRequest{Text: "yes", DoctorID: "doc-1", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Message != "Booked!" || reply.SessionID != "s-9" || !reply.Completed() {
		t.Errorf("reply = %+v", reply)
	}
	if want := (dialogue.Record{"name": "Ada", "email": "ada@example.com"}); !reflect.DeepEqual(reply.UpdatedData, want) {
		t.Errorf("UpdatedData = %v, want %v", reply.UpdatedData, want)
	}
	if !reflect.DeepEqual(reply.BookingResult, map[string]any{"id": "X"}) {
		t.Errorf("BookingResult = %v", reply.BookingResult)
	}
	if b.lastAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", b.lastAuth)
	}
	if b.lastPath != "/api/voice/process" {
		t.Errorf("path = %q", b.lastPath)
	}
	want := map[string]any{"text": "yes", "doctorId": "doc-1", "sessionId": "s-1"}
	if !reflect.DeepEqual(b.lastBody, want) {
		t.Errorf("request body = %v, want %v", b.lastBody, want)
	}
}

func TestProcess_OmitsEmptySessionID(t *testing.T) {
	b := &backend{status: 200, body: `{"message":"Who is the appointment for?"}`}
	c := newClient(t, b)
	reply, err := c.Process(context.Background(), dialogue.TurnRequest{Text: "hi", DoctorID: "doc-1"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := b.lastBody["sessionId"]; ok {
		t.Errorf("sessionId sent without a session: %v", b.lastBody)
	}
	if b.lastAuth != "" {
		t.Errorf("Authorization sent without token: %q", b.lastAuth)
	}
	if reply.UpdatedData != nil || reply.BookingResult != nil || reply.Completed() {
		t.Errorf("reply = %+v, want bare message", reply)
	}
}

func TestProcess_CompleteWithoutResult(t *testing.T) {
	b := &backend{status: 200, body: `{"message":"Done","isComplete":true,"bookingResult":null}`}
	c := newClient(t, b)
	reply, err := c.Process(context.Background(), dialogue.TurnRequest{Text: "ok", DoctorID: "d"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Completed() {
		t.Error("completion without a booking result must not count as completed")
	}
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    dialogue.Kind
		wantExpired bool
	}{
		{name: "missing message", status: 200, body: `{"sessionId":"s"}`, wantKind: dialogue.KindProtocol},
		{name: "bad booking result", status: 200, body: `{"message":"m","bookingResult":[1]}`, wantKind: dialogue.KindProtocol},
		{name: "session expired", status: 404, body: `{"message":"Session not found or expired"}`, wantKind: dialogue.KindTransport, wantExpired: true},
		{name: "server error", status: 500, body: `{"error":"database unavailable"}`, wantKind: dialogue.KindTransport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, &backend{status: tc.status, body: tc.body})
			_, err := c.Process(context.Background(), dialogue.TurnRequest{Text: "x", DoctorID: "d"})
			if got := dialogue.KindOf(err); got != tc.wantKind {
				t.Fatalf("KindOf = %v, want %v (err=%v)", got, tc.wantKind, err)
			}
			if got := dialogue.IsSessionExpired(err); got != tc.wantExpired {
				t.Errorf("IsSessionExpired = %v, want %v", got, tc.wantExpired)
			}
		})
	}
}

func TestProcess_NetworkFailure(t *testing.T) {
	b := &backend{status: 200, body: `{}`}
	srv := b.start(t)
	c, _ := New(srv.URL)
	srv.Close()

	_, err := c.Process(context.Background(), dialogue.TurnRequest{Text: "x", DoctorID: "d"})
	var te *dialogue.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Reported() {
		t.Error("a connection failure must not count as backend-reported")
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.Initiate(context.Background(), dialogue.InitiateRequest{DoctorID: "d"})
	if dialogue.KindOf(err) != dialogue.KindTransport {
		t.Fatalf("err = %v, want transport error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want to wrap context.DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not applied")
	}
}
