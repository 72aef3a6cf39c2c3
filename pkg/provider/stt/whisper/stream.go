package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

// transcribeFunc turns one utterance of PCM into text.
type transcribeFunc func(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error)

// streamConfig is the resolved configuration of a batch stream.
type streamConfig struct {
	sampleRate  int
	channels    int
	language    string
	silenceMs   int
	maxBufferMs int
	transcribe  transcribeFunc
}

// batchStream adapts a batch transcriber to stt.SessionHandle. All buffer
// state lives in the run goroutine. A transcription failure while streaming
// ends the stream early; subsequent SendAudio calls report the failure.
type batchStream struct {
	cfg      streamConfig
	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func startBatchStream(ctx context.Context, cfg streamConfig) (*batchStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	s := &batchStream{
		cfg:      cfg,
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run(context.WithoutCancel(ctx))
	return s, nil
}

// SendAudio buffers chunk until the stream is closed.
func (s *batchStream) SendAudio(chunk []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	case <-s.stopped:
		return s.failure()
	case s.audio <- chunk:
		return nil
	}
}

// Partials repeats each final transcript, since batch recognition has no
// interim results.
func (s *batchStream) Partials() <-chan stt.Transcript { return s.partials }
func (s *batchStream) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords fails: whisper.cpp has no keyword boosting.
func (s *batchStream) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("whisper: keyword update: %w", stt.ErrNotSupported)
}

// Close transcribes any buffered speech and then closes both channels.
func (s *batchStream) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}

func (s *batchStream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *batchStream) run(ctx context.Context) {
	defer close(s.stopped)
	defer close(s.partials)
	defer close(s.finals)

	seg := newSegmenter(s.cfg.sampleRate, s.cfg.channels, s.cfg.silenceMs, s.cfg.maxBufferMs)
	var offset time.Duration
	for {
		select {
		case <-s.done:
			// Drain audio that was queued before Close.
			for {
				select {
				case chunk := <-s.audio:
					if pcm, ok := seg.push(chunk); ok {
						offset = s.emit(ctx, pcm, offset)
					}
					continue
				default:
				}
				break
			}
			if pcm, ok := seg.flush(); ok {
				s.emit(ctx, pcm, offset)
			}
			return
		case chunk := <-s.audio:
			pcm, ok := seg.push(chunk)
			if !ok {
				continue
			}
			next, err := s.transcribe(ctx, pcm, offset)
			if err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				slog.Warn("whisper: transcription failed, ending stream", "err", err)
				return
			}
			offset = next
		}
	}
}

// emit transcribes during the closing flush, where failures only get logged.
func (s *batchStream) emit(ctx context.Context, pcm []byte, offset time.Duration) time.Duration {
	next, err := s.transcribe(ctx, pcm, offset)
	if err != nil {
		slog.Warn("whisper: final flush failed", "err", err)
		return offset
	}
	return next
}

func (s *batchStream) transcribe(ctx context.Context, pcm []byte, offset time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dur := time.Duration(chunkDurationMs(pcm, s.cfg.sampleRate, s.cfg.channels)) * time.Millisecond
	text, err := s.cfg.transcribe(ctx, pcm, s.cfg.sampleRate, s.cfg.channels, s.cfg.language)
	if err != nil {
		return offset, err
	}
	if text == "" {
		return offset + dur, nil
	}
	// Whisper has no interim results, so the partial repeats the final. Sends
	// never block: a consumer that stopped reading loses transcripts.
	t := stt.Transcript{Text: text, Timestamp: offset, Duration: dur}
	select {
	case s.partials <- t:
	default:
	}
	t.IsFinal = true
	select {
	case s.finals <- t:
	default:
		slog.Warn("whisper: finals channel full, dropping transcript")
	}
	return offset + dur, nil
}
