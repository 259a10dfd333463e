// Package output holds the user-facing text for session events.
package output

import (
	"fmt"
	"strings"

	"lapnote/internal/domain"
)

// SessionReasonMessage describes a state transition reason.
func SessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonRecordingPaused:
		return "Paused"
	case domain.SessionReasonRecordingResumed:
		return "Recording resumed"
	case domain.SessionReasonTranscribing:
		return "Transcribing segment..."
	case domain.SessionReasonLapRecorded:
		return "Lap recorded"
	case domain.SessionReasonLapSkipped:
		return "Lap skipped (no audio captured)"
	case domain.SessionReasonPolishing:
		return "Polishing note..."
	case domain.SessionReasonNoteReady:
		return "Note ready"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonPolishEmpty:
		return "Polishing returned nothing; raw transcript kept"
	case domain.SessionReasonPolishFailed:
		return "Polishing failed; raw transcript kept"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonDeviceUnavailable:
		return "Microphone unavailable"
	default:
		return ""
	}
}

// ErrorMessage summarizes an error code. Unknown codes fall back to detail.
func ErrorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDeviceAcquisition:
		return "Could not open the microphone"
	case domain.ErrorCodeCapture:
		return "Audio capture issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeVocabulary:
		return "Vocabulary processing failed"
	case domain.ErrorCodePolishing:
		return "Polishing error"
	case domain.ErrorCodeMarkup:
		return "Could not render the note"
	case domain.ErrorCodeInternal:
		return "Internal error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// ErrorLine joins the summary and detail for single-line display.
func ErrorLine(code domain.ErrorCode, detail string) string {
	summary := ErrorMessage(code, detail)
	detail = strings.TrimSpace(detail)
	if detail == "" || detail == summary {
		return summary
	}
	return fmt.Sprintf("%s: %s", summary, detail)
}

// UsageLine renders token totals and derived cost.
func UsageLine(note domain.Note) string {
	return fmt.Sprintf("tokens %d in / %d out  cost $%.6f", note.PromptTokens, note.CompletionTokens, note.Cost())
}
