// Package tui is the interactive recording screen.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lapnote/internal/domain"
	"lapnote/internal/output"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	recordingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	pausedStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	processingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	idleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	clockStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("178"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

const statusTTL = 5 * time.Second

// Controller is the subset of the session controller the screen drives.
type Controller interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Lap() error
	Stop() error
	Abort() error
}

// SaveFunc persists a finished note and returns where it was written.
type SaveFunc func(domain.Note) (string, error)

// Model is the root Bubble Tea model for the recording screen.
type Model struct {
	ctx        context.Context
	controller Controller
	save       SaveFunc
	modeName   string

	state     domain.SessionState
	elapsed   time.Duration
	laps      int
	note      domain.Note
	raw       string
	status    string
	statusSeq int
	errLine   string
	savedPath string
	saving    bool
	quitting  bool

	keys     keyMap
	help     help.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int
}

// New builds the screen. save may be nil.
func New(ctx context.Context, controller Controller, modeName string, save SaveFunc) Model {
	return Model{
		ctx:        ctx,
		controller: controller,
		save:       save,
		modeName:   modeName,
		state:      domain.SessionStateIdle,
		status:     output.SessionReasonMessage(domain.SessionReasonReady),
		keys:       defaultKeyMap(),
		help:       help.New(),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeViewport()
		return m, nil

	case StateMsg:
		m.state = msg.State
		m.errLine = clearOn(msg, m.errLine)
		cmd := m.setStatus(output.SessionReasonMessage(msg.Reason))
		if msg.State == domain.SessionStateIdle && isFinished(msg.Reason) && m.save != nil {
			m.saving = true
			return m, tea.Batch(cmd, saveCmd(m.save, m.note))
		}
		return m, cmd

	case TranscriptMsg:
		m.raw = msg.Raw
		m.refreshViewport()
		return m, nil

	case TickMsg:
		m.elapsed = msg.Elapsed
		return m, nil

	case NoteMsg:
		m.note = msg.Note
		m.laps = len(msg.Note.Laps)
		if msg.Note.Duration > 0 {
			m.elapsed = msg.Note.Duration
		}
		return m, nil

	case ErrorMsg:
		m.errLine = output.ErrorLine(msg.Code, msg.Detail)
		return m, nil

	case intentDoneMsg:
		if msg.err != nil {
			m.errLine = fmt.Sprintf("%s: %v", msg.intent, msg.err)
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case savedMsg:
		m.saving = false
		if msg.err != nil {
			m.errLine = fmt.Sprintf("save note: %v", msg.err)
			return m, nil
		}
		m.savedPath = msg.path
		return m, nil

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.state == domain.SessionStateIdle {
			return m, tea.Quit
		}
		// Discard the running session before leaving so the device is freed.
		m.quitting = true
		return m, intentCmd("abort", m.controller.Abort)

	case key.Matches(msg, m.keys.Start):
		return m, intentCmd("start", func() error { return m.controller.Start(m.ctx) })

	case key.Matches(msg, m.keys.Pause):
		if m.state == domain.SessionStatePaused {
			return m, intentCmd("resume", m.controller.Resume)
		}
		return m, intentCmd("pause", m.controller.Pause)

	case key.Matches(msg, m.keys.Lap):
		return m, intentCmd("lap", m.controller.Lap)

	case key.Matches(msg, m.keys.Stop):
		return m, intentCmd("stop", m.controller.Stop)

	case key.Matches(msg, m.keys.Abort):
		return m, intentCmd("abort", m.controller.Abort)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// intentCmd runs fn off the update loop. Controller events arrive through
// Program.Send, which needs Update to keep draining.
func intentCmd(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return intentDoneMsg{intent: name, err: fn()}
	}
}

func saveCmd(save SaveFunc, note domain.Note) tea.Cmd {
	note = note.Clone()
	return func() tea.Msg {
		path, err := save(note)
		return savedMsg{path: path, err: err}
	}
}

func (m *Model) setStatus(text string) tea.Cmd {
	if text == "" {
		return nil
	}
	m.statusSeq++
	m.status = text
	seq := m.statusSeq
	if m.state != domain.SessionStateIdle {
		return nil
	}
	return tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

func isFinished(reason domain.SessionStateReason) bool {
	switch reason {
	case domain.SessionReasonNoteReady, domain.SessionReasonPolishEmpty,
		domain.SessionReasonPolishFailed, domain.SessionReasonNoTranscript:
		return true
	}
	return false
}

func clearOn(msg StateMsg, current string) string {
	if msg.Reason == domain.SessionReasonRecordingStarted {
		return ""
	}
	return current
}

func (m *Model) resizeViewport() {
	height := max(m.height-8, 3)
	if !m.ready {
		m.viewport = viewport.New(m.width, height)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = height
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	content := m.raw
	if strings.TrimSpace(content) == "" {
		content = dimStyle.Render("Transcript appears here after each lap.")
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.width).Render(content))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("lapnote"))
	b.WriteString("  ")
	b.WriteString(stateBadge(m.state))
	b.WriteString("  ")
	b.WriteString(clockStyle.Render(domain.FormatClock(m.elapsed)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  laps %d  mode %s", m.laps, m.modeName)))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	bar := output.UsageLine(m.note)
	if m.status != "" {
		bar = m.status + "  |  " + bar
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar))
	b.WriteString("\n")
	if m.errLine != "" {
		b.WriteString(errorStyle.Render(m.errLine))
		b.WriteString("\n")
	}
	switch {
	case m.saving:
		b.WriteString(dimStyle.Render("saving note..."))
		b.WriteString("\n")
	case m.savedPath != "":
		b.WriteString(dimStyle.Render("saved " + m.savedPath))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func stateBadge(state domain.SessionState) string {
	switch state {
	case domain.SessionStateRecording:
		return recordingStyle.Render("● REC")
	case domain.SessionStatePaused:
		return pausedStyle.Render("❚❚ PAUSED")
	case domain.SessionStateProcessing:
		return processingStyle.Render("… PROCESSING")
	default:
		return idleStyle.Render("○ IDLE")
	}
}
