package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

// TranscriptionInstructions is sent with every segment.
const TranscriptionInstructions = `Transcribe this audio verbatim.
Prefix each utterance with a [mm:ss] timestamp and a speaker label (Speaker 1, Speaker 2, ...).
Mark pauses as [pause], unclear speech as [inaudible], and background sounds as [sound: description].
Do not summarize or correct the speaker.`

// NoSpeechDetected is the segment text when the service returned nothing.
const NoSpeechDetected = "[No speech detected]"

func (c *SessionController) acquire(ctx context.Context) (ports.CaptureHandle, error) {
	handle, err := c.deps.Capture.Acquire(ctx, c.cfg.Capture)
	if err == nil {
		return handle, nil
	}
	c.log.Warn("capture acquisition failed; retrying with fallback settings", "error", err)

	handle, fallbackErr := c.deps.Capture.Acquire(ctx, c.cfg.FallbackCapture)
	if fallbackErr == nil {
		return handle, nil
	}
	return nil, fmt.Errorf("acquire capture device: %w", errors.Join(err, fallbackErr))
}

// awaitSegment consumes one device stop delivery and runs the segment through
// transcription, then either opens the next segment or finalizes the note.
func (c *SessionController) awaitSegment(s *session, delivered <-chan domain.CapturedAudio) {
	defer c.inflight.Done()
	defer c.settle(s)

	var audio domain.CapturedAudio
	select {
	case got, ok := <-delivered:
		if ok {
			audio = got
		}
	case <-s.ctx.Done():
		// Hand the session to settle so the latched stop cannot outlive it.
		c.mu.Lock()
		if c.current == s {
			s.foldActive(c.cfg.Now())
			s.state = domain.SessionStateProcessing
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	c.ticker.Stop()
	s.foldActive(c.cfg.Now())
	s.state = domain.SessionStateProcessing
	reason := s.pending
	s.note.AudioSize += len(audio.Data)
	lap := domain.Lap{Index: s.laps + 1, Start: s.segmentStart, End: s.cumulative}
	c.note = s.note.Clone()
	elapsed := s.cumulative
	c.mu.Unlock()

	c.deps.Events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonTranscribing)
	c.deps.Events.DurationTick(elapsed)
	if audio.Err != nil {
		c.log.Warn("capture delivered with error", "note", s.note.ID, "error", audio.Err)
		c.deps.Events.SessionError(domain.ErrorCodeCapture, audio.Err.Error())
	}

	if len(audio.Data) == 0 {
		if reason == domain.StopReasonLap {
			c.log.Info("empty lap skipped", "note", s.note.ID)
			c.beginNextSegment(s, domain.SessionReasonLapSkipped)
			return
		}
		c.finalize(s)
		return
	}

	text := c.transcribeSegment(s, audio)

	c.mu.Lock()
	s.accumulator.Append(lap, text)
	s.laps = lap.Index
	s.segmentStart = lap.End
	s.note.RawTranscript = s.accumulator.Raw()
	s.note.Laps = s.accumulator.Laps()
	c.note = s.note.Clone()
	raw := s.note.RawTranscript
	note := c.note.Clone()
	c.mu.Unlock()

	c.log.Info("lap appended", "note", note.ID, "lap", lap.Index, "start", lap.Start, "end", lap.End)
	c.deps.Events.TranscriptUpdated(raw)
	c.deps.Events.NoteUpdated(note)

	if reason == domain.StopReasonLap {
		c.beginNextSegment(s, domain.SessionReasonLapRecorded)
		return
	}
	c.finalize(s)
}

// transcribeSegment never fails: errors become the segment text.
func (c *SessionController) transcribeSegment(s *session, audio domain.CapturedAudio) string {
	resp, err := c.deps.Transcriber.Transcribe(s.ctx, domain.TranscriptionRequest{
		ContentType:  audio.ContentType,
		Audio:        audio.Data,
		Instructions: TranscriptionInstructions,
	})
	c.applyUsage(s, resp.Usage)

	if err != nil {
		c.log.Error("segment transcription failed", "note", s.note.ID, "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeTranscription, err.Error())
		return transcriptionFailedMarker(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return NoSpeechDetected
	}
	return c.applyRules(text)
}

func (c *SessionController) applyRules(text string) string {
	if c.deps.Rules == nil {
		return text
	}
	out, err := c.deps.Rules.Apply(text)
	if err != nil {
		c.log.Warn("vocabulary rules failed", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeVocabulary, err.Error())
		return text
	}
	return out
}

func (c *SessionController) applyUsage(s *session, usage *domain.Usage) {
	if usage == nil {
		return
	}
	c.mu.Lock()
	s.note.ApplyUsage(usage)
	if c.current == s {
		c.note = s.note.Clone()
	}
	note := s.note.Clone()
	c.mu.Unlock()
	c.deps.Events.NoteUpdated(note)
}

// beginNextSegment restarts capture on the held device and returns to
// Recording. A device that refuses to restart ends the session.
func (c *SessionController) beginNextSegment(s *session, reason domain.SessionStateReason) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	if err := s.handle.Start(); err != nil {
		c.mu.Unlock()
		c.log.Error("restart capture failed", "note", s.note.ID, "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeCapture, err.Error())
		c.finalize(s)
		return
	}
	now := c.cfg.Now()
	s.pending = domain.StopReasonNone
	s.state = domain.SessionStateRecording
	s.markActive(now)
	c.ticker.Start(s.cumulative, now)
	c.mu.Unlock()

	c.deps.Events.SessionStateChanged(domain.SessionStateRecording, reason)
}

// finalize polishes the accumulated transcript once, releases the device and
// returns the controller to Idle.
func (c *SessionController) finalize(s *session) {
	c.mu.Lock()
	note := s.note.Clone()
	raw := s.accumulator.Raw()
	c.mu.Unlock()

	if strings.TrimSpace(raw) != "" {
		c.deps.Events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonPolishing)
	}
	outcome := c.polisher.Polish(s.ctx, note, raw)
	c.applyUsage(s, outcome.Usage)

	c.mu.Lock()
	s.note.Polished = outcome.Markup
	s.note.PolishedHTML = outcome.HTML
	s.state = domain.SessionStateIdle
	s.pending = domain.StopReasonNone
	handle := s.handle
	if c.current == s {
		c.current = nil
	}
	c.note = s.note.Clone()
	note = c.note.Clone()
	c.mu.Unlock()

	c.release(s, handle)
	c.log.Info("session finished", "note", note.ID, "laps", len(note.Laps), "duration", note.Duration, "reason", string(outcome.Reason), "cost", note.Cost())
	c.deps.Events.NoteUpdated(note)
	c.deps.Events.SessionStateChanged(domain.SessionStateIdle, outcome.Reason)
}

// processFile transcribes a whole pre-recorded file as one headerless result.
func (c *SessionController) processFile(s *session, audio domain.CapturedAudio) {
	c.deps.Events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonTranscribing)

	text := ""
	if len(audio.Data) > 0 {
		text = c.transcribeSegment(s, audio)
	}

	c.mu.Lock()
	s.accumulator.Set(text)
	s.note.RawTranscript = s.accumulator.Raw()
	c.note = s.note.Clone()
	raw := s.note.RawTranscript
	c.mu.Unlock()

	c.deps.Events.TranscriptUpdated(raw)
	c.finalize(s)
}

func (c *SessionController) release(s *session, handle ports.CaptureHandle) {
	s.cancel()
	if handle == nil {
		return
	}
	if err := handle.Release(); err != nil {
		c.log.Warn("release capture device failed", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeCapture, err.Error())
	}
}

// settle returns the controller to Idle if processing exited without
// finishing the session, including by panic or cancellation.
func (c *SessionController) settle(s *session) {
	recovered := recover()

	c.mu.Lock()
	if c.current != s || s.state != domain.SessionStateProcessing {
		c.mu.Unlock()
		if recovered != nil {
			panic(recovered)
		}
		return
	}
	c.ticker.Stop()
	c.current = nil
	s.state = domain.SessionStateIdle
	s.pending = domain.StopReasonNone
	handle := s.handle
	c.note = s.note.Clone()
	c.mu.Unlock()

	c.release(s, handle)
	detail := "session processing ended unexpectedly"
	switch {
	case recovered != nil:
		detail = fmt.Sprintf("%s: %v", detail, recovered)
	case s.ctx.Err() != nil:
		detail = fmt.Sprintf("session cancelled before the segment was delivered: %v", s.ctx.Err())
	}
	c.log.Error(detail, "note", s.note.ID)
	c.deps.Events.SessionError(domain.ErrorCodeInternal, detail)
	c.deps.Events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func transcriptionFailedMarker(err error) string {
	return fmt.Sprintf("[Transcription failed: %s]", err.Error())
}
