// Package mock provides a call-recording dialogue.Backend for tests.
//
// Replies are consumed in order from InitiateResults and ProcessResults; once
// a queue is empty the last entry repeats. Hooks run while the call is in
// flight, so tests can observe controller state mid-call.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/medconnect/internal/dialogue"
)

// InitiateResult is one scripted Initiate outcome.
type InitiateResult struct {
	Session dialogue.Session
	Err     error
}

// ProcessResult is one scripted Process outcome.
type ProcessResult struct {
	Reply dialogue.TurnReply
	Err   error
}

// Backend is a scripted dialogue.Backend.
type Backend struct {
	mu sync.Mutex

	InitiateResults []InitiateResult
	ProcessResults  []ProcessResult

	// OnInitiate and OnProcess, if set, run before the scripted result is
	// returned.
	OnInitiate func(ctx context.Context, req dialogue.InitiateRequest)
	OnProcess  func(ctx context.Context, req dialogue.TurnRequest)

	InitiateCalls []dialogue.InitiateRequest
	ProcessCalls  []dialogue.TurnRequest
}

// Initiate records req and returns the next scripted session.
func (b *Backend) Initiate(ctx context.Context, req dialogue.InitiateRequest) (dialogue.Session, error) {
	b.mu.Lock()
	b.InitiateCalls = append(b.InitiateCalls, req)
	res := pop(&b.InitiateResults)
	hook := b.OnInitiate
	b.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	return res.Session, res.Err
}

// Process records req and returns the next scripted reply.
func (b *Backend) Process(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error) {
	b.mu.Lock()
	b.ProcessCalls = append(b.ProcessCalls, req)
	res := pop(&b.ProcessResults)
	hook := b.OnProcess
	b.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	return res.Reply, res.Err
}

// Calls returns copies of the recorded calls.
func (b *Backend) Calls() ([]dialogue.InitiateRequest, []dialogue.TurnRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]dialogue.InitiateRequest(nil), b.InitiateCalls...),
		append([]dialogue.TurnRequest(nil), b.ProcessCalls...)
}

func pop[T any](q *[]T) T {
	var zero T
	switch len(*q) {
	case 0:
		return zero
	case 1:
		return (*q)[0]
	default:
		v := (*q)[0]
		*q = (*q)[1:]
		return v
	}
}

var _ dialogue.Backend = (*Backend)(nil)
