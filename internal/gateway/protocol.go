package gateway

import (
	"errors"

	"github.com/MrWong99/medconnect/internal/dialogue"
	"github.com/MrWong99/medconnect/internal/voice"
)

// Client command types.
const (
	cmdStart        = "start"
	cmdStop         = "stop"
	cmdReset        = "reset"
	cmdText         = "text"
	cmdCaptureError = "capture_error"
)

// command is a JSON text frame sent by the client.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

type helloMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	DoctorID     string `json:"doctorId"`
	DoctorName   string `json:"doctorName,omitempty"`
}

type messageMsg struct {
	Type    string        `json:"type"`
	Message voice.Message `json:"message"`
}

type errorView struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type stateMsg struct {
	Type             string          `json:"type"`
	State            string          `json:"state"`
	SessionID        string          `json:"sessionId,omitempty"`
	DoctorID         string          `json:"doctorId"`
	DoctorName       string          `json:"doctorName,omitempty"`
	Record           dialogue.Record `json:"record"`
	Error            *errorView      `json:"error,omitempty"`
	CaptureAvailable bool            `json:"captureAvailable"`
}

type clearedMsg struct {
	Type string `json:"type"`
}

type bookingMsg struct {
	Type   string         `json:"type"`
	Result map[string]any `json:"result"`
}

type refusedMsg struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

func newStateMsg(s voice.Snapshot) stateMsg {
	return stateMsg{
		Type:             "state",
		State:            s.State.String(),
		SessionID:        s.SessionID,
		DoctorID:         s.DoctorID,
		DoctorName:       s.DoctorName,
		Record:           s.Record,
		Error:            viewError(s.Err),
		CaptureAvailable: s.CaptureAvailable,
	}
}

func viewError(err error) *errorView {
	if err == nil {
		return nil
	}
	var ce *voice.CaptureError
	switch {
	case errors.As(err, &ce):
		return &errorView{Kind: "capture", Code: string(ce.Code), Message: err.Error()}
	case errors.Is(err, voice.ErrCaptureUnavailable):
		return &errorView{Kind: "capture_unavailable", Message: err.Error()}
	}
	kind := "dialogue"
	switch dialogue.KindOf(err) {
	case dialogue.KindProtocol:
		kind = "protocol"
	case dialogue.KindTransport:
		kind = "transport"
	}
	return &errorView{Kind: kind, Message: dialogue.Reason(err)}
}

// errRateLimited refuses start and text commands over the turn limit.
var errRateLimited = errors.New("gateway: too many turns")

func refusalReason(err error) string {
	switch {
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, voice.ErrNoSession):
		return "no_session"
	case errors.Is(err, voice.ErrAlreadyListening):
		return "already_listening"
	case errors.Is(err, voice.ErrBusy):
		return "busy"
	case errors.Is(err, voice.ErrNotReady):
		return "not_ready"
	case errors.Is(err, voice.ErrInitiated):
		return "initiated"
	case errors.Is(err, voice.ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.Is(err, voice.ErrCompleted):
		return "completed"
	case errors.Is(err, voice.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
