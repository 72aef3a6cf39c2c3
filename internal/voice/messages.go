package voice

import (
	"fmt"

	"github.com/MrWong99/medconnect/pkg/capture"
)

const captureUnavailableNotice = "Speech recognition is not available right now. Please use the form booking."

func initFailedMessage(reason string) string {
	return fmt.Sprintf("Sorry, I couldn't start the voice session (%s). Please try again or use the form booking.", reason)
}

func turnFailedMessage(expired bool) string {
	msg := "Sorry, I encountered an error processing your request. "
	if expired {
		msg += "Your session expired. "
	}
	return msg + "Please try speaking again or use the form booking."
}

func captureFailedMessage(code capture.ErrorCode) string {
	msg := "Sorry, I encountered an error listening to your voice. "
	switch code {
	case capture.NoSpeech:
		return msg + "I didn't hear anything. Please try speaking again."
	case capture.AudioCapture:
		return msg + "I couldn't access your microphone. Please check your microphone settings."
	case capture.NotAllowed:
		return msg + "Microphone access was denied. Please allow microphone access to use voice booking."
	default:
		return msg + "Please try speaking again."
	}
}
