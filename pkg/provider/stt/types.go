package stt

import "time"

// Transcript is a speech-to-text result. Partial and final results share this
// type and are distinguished by IsFinal.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall score in [0, 1]. Zero when unreported.
	Confidence float64

	// Words holds per-word detail when the backend provides it.
	Words []WordDetail

	// Timestamp marks the utterance start relative to the stream start.
	Timestamp time.Duration

	// Duration is the utterance length.
	Duration time.Duration
}

// WordDetail holds per-word timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a recognition hint. Boost is provider-specific; Deepgram
// treats it as an intensifier in roughly [-10, 10].
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
