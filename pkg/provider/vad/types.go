package vad

// VADEvent is the classification of one frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the speech likelihood of the frame, 0 to 1.
	Probability float64
}

// VADEventType enumerates frame classifications.
type VADEventType int

const (
	// VADSpeechStart marks the first frame of a speech segment.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a frame inside a speech segment.
	VADSpeechContinue

	// VADSpeechEnd marks the frame that completed the trailing silence.
	VADSpeechEnd

	// VADSilence marks a frame outside any speech segment.
	VADSilence
)

// String returns the name of t.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech-start"
	case VADSpeechContinue:
		return "speech-continue"
	case VADSpeechEnd:
		return "speech-end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
