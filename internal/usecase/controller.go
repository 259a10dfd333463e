package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrSessionActive     = errors.New("a recording session is already active")
	ErrBusy              = errors.New("session is processing")
	ErrInvalidTransition = errors.New("intent is not valid in the current state")
)

// Config controls segmented recording behavior.
type Config struct {
	Capture         ports.CaptureConstraints
	FallbackCapture ports.CaptureConstraints
	Rates           domain.Rates
	DefaultModeID   string
	TickInterval    time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Dependencies are the collaborators the controller drives.
// Rules and Markup are optional.
type Dependencies struct {
	Capture     ports.CaptureDevice
	Transcriber ports.Transcriber
	Polisher    ports.Polisher
	Modes       ports.ModeRegistry
	Preferences ports.Preferences
	Markup      ports.MarkupRenderer
	Rules       ports.TranscriptRules
	Events      ports.EventSink
}

// SessionController runs the segmented recording state machine.
type SessionController struct {
	deps     Dependencies
	cfg      Config
	polisher notePolisher
	log      *slog.Logger

	mu       sync.Mutex
	current  *session
	note     domain.Note
	ticker   *liveTicker
	inflight sync.WaitGroup
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Rates == (domain.Rates{}) {
		cfg.Rates = domain.DefaultRates
	}
	if cfg.FallbackCapture == (ports.CaptureConstraints{}) {
		cfg.FallbackCapture = ports.CaptureConstraints{
			SampleRate:  16000,
			Channels:    1,
			InputFormat: cfg.Capture.InputFormat,
			InputDevice: "default",
		}
	}

	c := &SessionController{
		deps:     deps,
		cfg:      cfg,
		polisher: newNotePolisher(deps, cfg.DefaultModeID),
		log:      cfg.Logger,
	}
	c.ticker = newLiveTicker(cfg.TickInterval, cfg.Now, deps.Events.DurationTick)
	return c
}

// Start acquires the capture device and begins the first segment.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil {
		state := c.current.state
		c.mu.Unlock()
		if state == domain.SessionStateProcessing {
			return ErrBusy
		}
		return ErrSessionActive
	}
	// The session stays in Processing until the device is ready so that no
	// other intent interleaves with acquisition.
	s := newSession(ctx)
	c.current = s
	c.mu.Unlock()

	handle, err := c.acquire(s.ctx)
	if err == nil {
		if startErr := handle.Start(); startErr != nil {
			_ = handle.Release()
			err = fmt.Errorf("start capture: %w", startErr)
		}
	}
	if err != nil {
		c.abandon(s)
		c.log.Error("session aborted: capture unavailable", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeDeviceAcquisition, err.Error())
		c.deps.Events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonDeviceUnavailable)
		return err
	}

	c.mu.Lock()
	now := c.cfg.Now()
	s.handle = handle
	s.note = domain.NewNote(c.cfg.NewID(), now, c.selectedModeID(), c.cfg.Rates)
	s.state = domain.SessionStateRecording
	s.markActive(now)
	c.note = s.note.Clone()
	c.ticker.Start(s.cumulative, now)
	note := c.note.Clone()
	c.mu.Unlock()

	c.log.Info("recording started", "note", note.ID, "mode", note.ModeID)
	c.deps.Events.NoteUpdated(note)
	c.deps.Events.TranscriptUpdated("")
	c.deps.Events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

// Pause suspends capture and folds the active period into the duration.
func (c *SessionController) Pause() error {
	c.mu.Lock()
	s, err := c.guard(intentPause)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := s.handle.Pause(); err != nil {
		c.mu.Unlock()
		c.deps.Events.SessionError(domain.ErrorCodeCapture, err.Error())
		return fmt.Errorf("pause capture: %w", err)
	}
	c.ticker.Stop()
	s.foldActive(c.cfg.Now())
	s.state = domain.SessionStatePaused
	elapsed := s.cumulative
	c.mu.Unlock()

	c.deps.Events.SessionStateChanged(domain.SessionStatePaused, domain.SessionReasonRecordingPaused)
	c.deps.Events.DurationTick(elapsed)
	return nil
}

// Resume continues capture and opens a new active period.
func (c *SessionController) Resume() error {
	c.mu.Lock()
	s, err := c.guard(intentResume)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := s.handle.Resume(); err != nil {
		c.mu.Unlock()
		c.deps.Events.SessionError(domain.ErrorCodeCapture, err.Error())
		return fmt.Errorf("resume capture: %w", err)
	}
	now := c.cfg.Now()
	s.markActive(now)
	s.state = domain.SessionStateRecording
	c.ticker.Start(s.cumulative, now)
	c.mu.Unlock()

	c.deps.Events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingResumed)
	return nil
}

// Lap closes the current segment. Processing starts once the device
// delivers the captured audio.
func (c *SessionController) Lap() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.guard(intentLap)
	if err != nil {
		return err
	}
	c.latch(s, domain.StopReasonLap)
	return nil
}

// Stop closes the final segment. A stop raised while a lap is latched but
// not yet delivered turns that lap into the final segment.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.current; s != nil && s.state != domain.SessionStateProcessing && s.pending == domain.StopReasonLap {
		s.pending = domain.StopReasonStop
		c.log.Info("latched lap upgraded to stop", "note", s.note.ID)
		return nil
	}
	s, err := c.guard(intentStop)
	if err != nil {
		return err
	}
	c.latch(s, domain.StopReasonStop)
	return nil
}

// Abort discards the session without transcription.
func (c *SessionController) Abort() error {
	c.mu.Lock()
	s, err := c.guard(intentAbort)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ticker.Stop()
	c.current = nil
	c.mu.Unlock()

	s.cancel()
	if s.handle != nil {
		if err := s.handle.Release(); err != nil {
			c.deps.Events.SessionError(domain.ErrorCodeCapture, err.Error())
		}
	}
	c.log.Info("recording discarded", "note", s.note.ID)
	c.deps.Events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// TranscribeFile runs a single pre-recorded file through transcription and
// polishing. It blocks until the note is final.
func (c *SessionController) TranscribeFile(ctx context.Context, audio domain.CapturedAudio) (domain.Note, error) {
	c.mu.Lock()
	if c.current != nil {
		state := c.current.state
		c.mu.Unlock()
		if state == domain.SessionStateProcessing {
			return domain.Note{}, ErrBusy
		}
		return domain.Note{}, ErrSessionActive
	}
	s := newSession(ctx)
	s.note = domain.NewNote(c.cfg.NewID(), c.cfg.Now(), c.selectedModeID(), c.cfg.Rates)
	s.note.AudioSize = len(audio.Data)
	c.current = s
	c.note = s.note.Clone()
	c.mu.Unlock()

	c.inflight.Add(1)
	func() {
		defer c.inflight.Done()
		defer c.settle(s)
		c.processFile(s, audio)
	}()
	return c.Note(), nil
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Laps: len(c.note.Laps), Elapsed: c.note.Duration}
	}
	s := c.current
	return domain.Status{
		State:   s.state,
		Active:  true,
		Laps:    s.laps,
		Elapsed: s.elapsed(c.cfg.Now()),
		Pending: s.pending,
	}
}

// Note returns a snapshot of the current note.
func (c *SessionController) Note() domain.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.note.Clone()
}

// Modes lists the available output modes.
func (c *SessionController) Modes() []domain.Mode {
	if c.deps.Modes == nil {
		return nil
	}
	return c.deps.Modes.Modes()
}

// Wait blocks until no segment is being processed.
func (c *SessionController) Wait() {
	c.inflight.Wait()
}

// guard must be called with c.mu held.
func (c *SessionController) guard(in intent) (*session, error) {
	s := c.current
	if s == nil {
		return nil, ErrNoActiveSession
	}
	if s.state == domain.SessionStateProcessing {
		c.log.Debug("intent dropped while processing", "intent", string(in))
		return nil, ErrBusy
	}
	if s.pending != domain.StopReasonNone {
		c.log.Debug("intent dropped while a stop is latched", "intent", string(in), "pending", string(s.pending))
		return nil, ErrBusy
	}
	if !permits(s.state, in) {
		return nil, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, in, s.state)
	}
	return s, nil
}

// latch must be called with c.mu held.
func (c *SessionController) latch(s *session, reason domain.StopReason) {
	s.pending = reason
	delivered := s.handle.Stop()
	c.inflight.Add(1)
	go c.awaitSegment(s, delivered)
	c.log.Info("segment close requested", "note", s.note.ID, "reason", string(reason))
}

func (c *SessionController) selectedModeID() string {
	id := ""
	if c.deps.Preferences != nil {
		id = c.deps.Preferences.ModeID()
	}
	if id != "" && c.deps.Modes != nil {
		if _, err := c.deps.Modes.Lookup(id); err == nil {
			return id
		}
		c.log.Warn("unknown mode preference; using default", "mode", id)
	}
	return c.cfg.DefaultModeID
}

// abandon drops a session that never reached Recording.
func (c *SessionController) abandon(s *session) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	s.cancel()
}
