package ports

import (
	"context"
	"time"

	"lapnote/internal/domain"
)

// CaptureConstraints describes how the microphone should be captured.
type CaptureConstraints struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	NoiseSuppression bool
}

// CaptureHandle is an acquired capture device reused across segments.
type CaptureHandle interface {
	// Start discards any buffered audio and begins a new segment.
	Start() error
	Pause() error
	Resume() error
	// Stop closes the current segment. The captured audio is delivered
	// on the returned channel once the device has flushed.
	Stop() <-chan domain.CapturedAudio
	Release() error
}

// CaptureDevice acquires capture handles.
type CaptureDevice interface {
	Acquire(ctx context.Context, constraints CaptureConstraints) (CaptureHandle, error)
}

// Transcriber turns one captured segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.ServiceResponse, error)
}

// Polisher turns a composed prompt into a structured document.
type Polisher interface {
	Polish(ctx context.Context, req domain.PolishRequest) (domain.ServiceResponse, error)
}

// ModeRegistry resolves output modes.
type ModeRegistry interface {
	Lookup(id string) (domain.Mode, error)
	Modes() []domain.Mode
}

// Preferences exposes the externally persisted user selections.
type Preferences interface {
	Timezone() string
	ModeID() string
}

// MarkupRenderer converts lightweight markup into a renderable document.
type MarkupRenderer interface {
	Render(markup string) (string, error)
}

// TranscriptRules transforms segment transcripts using deterministic rules.
type TranscriptRules interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(raw string)
	DurationTick(elapsed time.Duration)
	NoteUpdated(note domain.Note)
	SessionError(code domain.ErrorCode, detail string)
}
