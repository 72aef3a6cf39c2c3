// Package initguard serialises voice session initiation per caller.
//
// A caller that opens a second voice connection for the same doctor while
// the first is still live would start a second backend session and split
// the conversation. The gateway acquires the (caller, doctor) key before
// initiating and releases it when the connection closes.
package initguard

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned by Acquire when the key is already held.
var ErrHeld = errors.New("initguard: session already active for this caller")

// Guard hands out exclusive holds on keys.
type Guard interface {
	// Acquire takes key. The returned release function is safe to call more
	// than once. It returns ErrHeld when another holder has key.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds the guard key for a caller and doctor.
func Key(clientID, doctorID string) string {
	return clientID + "/" + doctorID
}

// Memory is a process-local Guard.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory returns an empty Memory guard.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

var _ Guard = (*Memory)(nil)

// Acquire takes the hold for key, or returns [ErrHeld] when it is taken.
func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrHeld
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently held.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
