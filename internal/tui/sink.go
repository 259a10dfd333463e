package tui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lapnote/internal/domain"
)

// Sink forwards controller events into a running Bubble Tea program.
// Events raised before Attach are dropped.
type Sink struct {
	mu      sync.RWMutex
	program *tea.Program
}

func NewSink() *Sink {
	return &Sink{}
}

// Attach starts forwarding to p.
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

// Detach stops forwarding.
func (s *Sink) Detach() {
	s.Attach(nil)
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.RLock()
	p := s.program
	s.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.send(StateMsg{State: state, Reason: reason})
}

func (s *Sink) TranscriptUpdated(raw string) {
	s.send(TranscriptMsg{Raw: raw})
}

func (s *Sink) DurationTick(elapsed time.Duration) {
	s.send(TickMsg{Elapsed: elapsed})
}

func (s *Sink) NoteUpdated(note domain.Note) {
	s.send(NoteMsg{Note: note})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.send(ErrorMsg{Code: code, Detail: detail})
}
