package domain

import "time"

// SessionState models the segmented recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStatePaused     SessionState = "paused"
	SessionStateProcessing SessionState = "processing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonRecordingPaused    SessionStateReason = "recording_paused"
	SessionReasonRecordingResumed   SessionStateReason = "recording_resumed"
	SessionReasonTranscribing       SessionStateReason = "transcribing"
	SessionReasonLapRecorded        SessionStateReason = "lap_recorded"
	SessionReasonLapSkipped         SessionStateReason = "lap_skipped"
	SessionReasonPolishing          SessionStateReason = "polishing"
	SessionReasonNoteReady          SessionStateReason = "note_ready"
	SessionReasonNoTranscript       SessionStateReason = "no_transcript"
	SessionReasonPolishEmpty        SessionStateReason = "polish_empty"
	SessionReasonPolishFailed       SessionStateReason = "polish_failed"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonDeviceUnavailable  SessionStateReason = "device_unavailable"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeDeviceAcquisition ErrorCode = "device_acquisition"
	ErrorCodeCapture           ErrorCode = "capture"
	ErrorCodeTranscription     ErrorCode = "transcription"
	ErrorCodeVocabulary        ErrorCode = "vocabulary"
	ErrorCodePolishing         ErrorCode = "polishing"
	ErrorCodeMarkup            ErrorCode = "markup"
	ErrorCodeInternal          ErrorCode = "internal"
)

// StopReason records why the current capture segment is being closed.
type StopReason string

const (
	StopReasonNone StopReason = ""
	StopReasonLap  StopReason = "lap"
	StopReasonStop StopReason = "stop"
)

// CapturedAudio is what a capture handle delivers once a segment stops.
type CapturedAudio struct {
	Data        []byte
	ContentType string
	Err         error
}

// Lap is one appended segment and its offsets within the session.
type Lap struct {
	Index int           `json:"index"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// TranscriptionRequest is sent once per captured segment.
type TranscriptionRequest struct {
	ContentType  string
	Audio        []byte
	Instructions string
}

// PolishRequest carries the single composed polishing prompt.
type PolishRequest struct {
	Prompt string
}

// ServiceResponse is the common result of both remote calls.
// Usage may be set even when the call itself failed.
type ServiceResponse struct {
	Text  string
	Usage *Usage
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState  `json:"state"`
	Active  bool          `json:"active"`
	Laps    int           `json:"laps"`
	Elapsed time.Duration `json:"elapsed"`
	Pending StopReason    `json:"pending,omitempty"`
	Message string        `json:"message,omitempty"`
}
