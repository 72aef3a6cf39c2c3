// Package rest implements dialogue.Backend over the MedConnect REST API.
//
// Endpoints (relative to the base URL):
//
//	POST /voice/session/initiate  {doctorId}                 -> {sessionId, welcomeMessage}
//	POST /voice/process           {text, doctorId, sessionId?} -> {message, sessionId?, updatedData?, isComplete?, bookingResult?}
//
// Responses may be wrapped in the API envelope {success, message, data}.
// A body with success=false is a failure; a body carrying a "data" key is
// unwrapped before decoding.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/medconnect/internal/dialogue"
)

const (
	initiatePath = "/voice/session/initiate"
	processPath  = "/voice/process"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

var _ dialogue.Backend = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left
// as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client is a dialogue.Backend talking JSON over HTTP. Safe for concurrent
// use.
type Client struct {
	baseURL   string
	token     string
	timeout   time.Duration
	userAgent string
	http      *http.Client
	prop      propagation.TextMapPropagator
}

// New returns a Client for the API rooted at baseURL
// (e.g. "https://api.medconnect.example/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("rest: base url must not be empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("rest: base url %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   defaultTimeout,
		userAgent: "medconnect-voice",
		http:      &http.Client{},
		prop:      propagation.TraceContext{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

type initiateReply struct {
	SessionID      string `json:"sessionId"`
	WelcomeMessage string `json:"welcomeMessage"`
}

// Initiate calls POST /voice/session/initiate.
func (c *Client) Initiate(ctx context.Context, req dialogue.InitiateRequest) (dialogue.Session, error) {
	const op = "initiate"
	payload, err := c.post(ctx, op, initiatePath, req)
	if err != nil {
		return dialogue.Session{}, err
	}
	var r initiateReply
	if err := decodeObject(payload, &r); err != nil {
		return dialogue.Session{}, &dialogue.ProtocolError{Op: op, Reason: "Invalid response from server", Err: err}
	}
	if r.SessionID == "" {
		return dialogue.Session{}, &dialogue.ProtocolError{Op: op, Reason: "Invalid response from server - no session ID received"}
	}
	return dialogue.Session{ID: r.SessionID, WelcomeMessage: r.WelcomeMessage}, nil
}

type turnReply struct {
	Message       string          `json:"message"`
	SessionID     string          `json:"sessionId"`
	UpdatedData   map[string]any  `json:"updatedData"`
	IsComplete    bool            `json:"isComplete"`
	BookingResult json.RawMessage `json:"bookingResult"`
}

// Process calls POST /voice/process.
func (c *Client) Process(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error) {
	const op = "process"
	payload, err := c.post(ctx, op, processPath, req)
	if err != nil {
		return dialogue.TurnReply{}, err
	}
	var r turnReply
	if err := decodeObject(payload, &r); err != nil {
		return dialogue.TurnReply{}, &dialogue.ProtocolError{Op: op, Reason: "Invalid response from server", Err: err}
	}
	if r.Message == "" {
		return dialogue.TurnReply{}, &dialogue.ProtocolError{Op: op, Reason: "Invalid response from server"}
	}

	reply := dialogue.TurnReply{
		Message:     r.Message,
		SessionID:   r.SessionID,
		UpdatedData: r.UpdatedData,
		IsComplete:  r.IsComplete,
	}
	if len(r.BookingResult) > 0 && !bytes.Equal(r.BookingResult, []byte("null")) {
		if err := json.Unmarshal(r.BookingResult, &reply.BookingResult); err != nil {
			return dialogue.TurnReply{}, &dialogue.ProtocolError{Op: op, Reason: "Invalid booking result", Err: err}
		}
	}
	return reply, nil
}

// post sends body as JSON and returns the unwrapped response payload.
func (c *Client) post(ctx context.Context, op, path string, body any) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rest: %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("rest: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &dialogue.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &dialogue.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorText(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &dialogue.TransportError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return unwrap(op, resp.StatusCode, data)
}

// envelope is the API's generic response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// unwrap applies the envelope rules to a 2xx body.
func unwrap(op string, status int, data []byte) (json.RawMessage, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		// Not an object; let the caller's decode report it.
		return data, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return data, nil
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = "Request failed"
		}
		return nil, &dialogue.TransportError{Op: op, StatusCode: status, Message: msg}
	}
	if raw, ok := keys["data"]; ok {
		return raw, nil
	}
	return data, nil
}

// errorText pulls message or error out of an error body.
func errorText(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// decodeObject decodes payload into v, requiring a JSON object.
func decodeObject(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("payload is not a JSON object")
	}
	return json.Unmarshal(trimmed, v)
}
