package resilience

import (
	"context"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens streams on the first healthy of
// several backends. Failover only covers opening the stream; a stream that
// fails mid-utterance ends the capture cycle.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backend names in try order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream opens a stream on the first backend that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
