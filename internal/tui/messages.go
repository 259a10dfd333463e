package tui

import (
	"time"

	"lapnote/internal/domain"
)

// StateMsg carries a session state transition.
type StateMsg struct {
	State  domain.SessionState
	Reason domain.SessionStateReason
}

// TranscriptMsg carries the full accumulated raw transcript.
type TranscriptMsg struct {
	Raw string
}

// TickMsg carries the live recording duration.
type TickMsg struct {
	Elapsed time.Duration
}

// NoteMsg carries the latest note snapshot.
type NoteMsg struct {
	Note domain.Note
}

// ErrorMsg carries a non-fatal or fatal session error.
type ErrorMsg struct {
	Code   domain.ErrorCode
	Detail string
}

// intentDoneMsg reports the result of an intent issued from a key press.
type intentDoneMsg struct {
	intent string
	err    error
}

// savedMsg reports where a finished note was written.
type savedMsg struct {
	path string
	err  error
}

// clearStatusMsg clears a transient status line.
type clearStatusMsg struct {
	seq int
}
