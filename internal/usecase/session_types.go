package usecase

import (
	"context"
	"time"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

type intent string

const (
	intentStart  intent = "start"
	intentPause  intent = "pause"
	intentResume intent = "resume"
	intentLap    intent = "lap"
	intentStop   intent = "stop"
	intentAbort  intent = "abort"
)

// transitions lists the intents each state accepts. Processing accepts none.
var transitions = map[domain.SessionState]map[intent]bool{
	domain.SessionStateIdle:       {intentStart: true},
	domain.SessionStateRecording:  {intentPause: true, intentLap: true, intentStop: true, intentAbort: true},
	domain.SessionStatePaused:     {intentResume: true, intentStop: true, intentAbort: true},
	domain.SessionStateProcessing: {},
}

func permits(state domain.SessionState, in intent) bool {
	return transitions[state][in]
}

// session is the context value threaded through every transition of one
// recording cycle. All fields are guarded by SessionController.mu.
type session struct {
	ctx    context.Context
	cancel func()
	handle ports.CaptureHandle

	state   domain.SessionState
	pending domain.StopReason
	laps    int

	cumulative   time.Duration
	activeSince  time.Time
	segmentStart time.Duration

	accumulator *transcriptAccumulator
	note        domain.Note
}

func newSession(ctx context.Context) *session {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &session{
		ctx:         sessionCtx,
		cancel:      cancel,
		state:       domain.SessionStateProcessing,
		accumulator: newTranscriptAccumulator(),
	}
}

// foldActive is the only place active time enters the cumulative duration.
// It is a no-op when no active period is open, so a stop delivered after a
// pause never counts the paused interval.
func (s *session) foldActive(now time.Time) {
	if s.activeSince.IsZero() {
		return
	}
	if elapsed := now.Sub(s.activeSince); elapsed > 0 {
		s.cumulative += elapsed
	}
	s.activeSince = time.Time{}
	s.note.Duration = s.cumulative
}

func (s *session) markActive(now time.Time) {
	s.activeSince = now
}

func (s *session) elapsed(now time.Time) time.Duration {
	total := s.cumulative
	if !s.activeSince.IsZero() && now.After(s.activeSince) {
		total += now.Sub(s.activeSince)
	}
	return total
}
