package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

func TestSessionControllerTwoLapSession(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	h.clock.Advance(2 * time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	h.controller.Wait()

	if got := h.controller.Status().State; got != domain.SessionStateRecording {
		t.Fatalf("expected recording after lap, got %s", got)
	}
	if raw := h.controller.Note().RawTranscript; !strings.HasPrefix(raw, "### Lap 1 (00:00 - 00:02)") {
		t.Fatalf("unexpected lap 1 header: %q", raw)
	}

	h.clock.Advance(3 * time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("second"))
	h.controller.Wait()

	note := h.controller.Note()
	want := "### Lap 1 (00:00 - 00:02)\n\nsegment 1\n\n### Lap 2 (00:02 - 00:05)\n\nsegment 2"
	if note.RawTranscript != want {
		t.Fatalf("unexpected raw transcript:\n%s", note.RawTranscript)
	}
	if note.Duration != 5*time.Second {
		t.Fatalf("expected 5s duration, got %s", note.Duration)
	}
	if note.Polished != "# Polished" {
		t.Fatalf("unexpected polished text: %q", note.Polished)
	}
	if len(note.Laps) != 2 || note.Laps[1] != (domain.Lap{Index: 2, Start: 2 * time.Second, End: 5 * time.Second}) {
		t.Fatalf("unexpected laps: %+v", note.Laps)
	}

	prompts := h.polisher.snapshotPrompts()
	if len(prompts) != 1 {
		t.Fatalf("expected exactly one polishing call, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], want) {
		t.Fatalf("polishing prompt is missing the transcript:\n%s", prompts[0])
	}

	if note.PromptTokens != 120 || note.CompletionTokens != 60 {
		t.Fatalf("unexpected token totals: %d/%d", note.PromptTokens, note.CompletionTokens)
	}
	if note.Cost() != domain.DefaultRates.CostOf(120, 60) {
		t.Fatalf("unexpected cost: %f", note.Cost())
	}

	status := h.controller.Status()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("expected idle after stop, got %+v", status)
	}
	if h.handle.releaseCount() != 1 {
		t.Fatalf("expected device released once, got %d", h.handle.releaseCount())
	}
	if h.device.acquireCount() != 1 {
		t.Fatalf("expected a single acquisition, got %d", h.device.acquireCount())
	}

	states := h.events.snapshotStates()
	last := states[len(states)-1]
	if last.state != domain.SessionStateIdle || last.reason != domain.SessionReasonNoteReady {
		t.Fatalf("unexpected final state event: %+v", last)
	}
}

func TestSessionControllerTranscriptionFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.results = []fakeResult{{err: errors.New("upstream 503")}}

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	h.controller.Wait()

	h.clock.Advance(time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("second"))
	h.controller.Wait()

	note := h.controller.Note()
	if !strings.Contains(note.RawTranscript, "### Lap 1 (00:00 - 00:01)\n\n[Transcription failed: upstream 503]") {
		t.Fatalf("expected error marker for lap 1, got:\n%s", note.RawTranscript)
	}
	if !strings.Contains(note.RawTranscript, "### Lap 2 (00:01 - 00:02)\n\nsegment 2") {
		t.Fatalf("expected lap 2 to append normally, got:\n%s", note.RawTranscript)
	}
	if h.controller.Status().State != domain.SessionStateIdle {
		t.Fatalf("expected idle")
	}

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeTranscription {
		t.Fatalf("expected one transcription error event, got %+v", errs)
	}
}

func TestSessionControllerTranscribeFileHasNoLapHeader(t *testing.T) {
	t.Parallel()

	h := newHarness()
	note, err := h.controller.TranscribeFile(context.Background(), wavAudio("file"))
	if err != nil {
		t.Fatalf("transcribe file failed: %v", err)
	}

	if note.RawTranscript != "segment 1" {
		t.Fatalf("unexpected raw transcript: %q", note.RawTranscript)
	}
	if len(note.Laps) != 0 {
		t.Fatalf("expected no laps, got %+v", note.Laps)
	}
	if note.Polished != "# Polished" {
		t.Fatalf("unexpected polished text: %q", note.Polished)
	}
	if note.AudioSize != len("file") {
		t.Fatalf("unexpected audio size: %d", note.AudioSize)
	}
	prompts := h.polisher.snapshotPrompts()
	if len(prompts) != 1 || strings.Contains(prompts[0], "### Lap") {
		t.Fatalf("unexpected polishing prompts: %q", prompts)
	}
	if h.device.acquireCount() != 0 {
		t.Fatalf("file transcription must not touch the capture device")
	}
}

func TestSessionControllerDropsIntentsWhileProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.gate = make(chan struct{})
	h.transcriber.entered = make(chan struct{}, 1)

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	<-h.transcriber.entered

	if got := h.controller.Status().State; got != domain.SessionStateProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
	for name, intent := range map[string]func() error{
		"pause":  h.controller.Pause,
		"resume": h.controller.Resume,
		"lap":    h.controller.Lap,
		"stop":   h.controller.Stop,
		"abort":  h.controller.Abort,
		"start":  func() error { return h.controller.Start(context.Background()) },
	} {
		if err := intent(); !errors.Is(err, ErrBusy) {
			t.Fatalf("%s: expected ErrBusy, got %v", name, err)
		}
	}

	close(h.transcriber.gate)
	h.controller.Wait()

	if got := h.controller.Status().State; got != domain.SessionStateRecording {
		t.Fatalf("expected recording once the lap finished, got %s", got)
	}
	if calls := h.transcriber.callCount(); calls != 1 {
		t.Fatalf("dropped intents must not run later, got %d transcriptions", calls)
	}
	if stops := h.handle.stopCount(); stops != 1 {
		t.Fatalf("expected one segment close, got %d", stops)
	}
}

func TestSessionControllerLatchedIntentBlocksOthers(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := h.controller.Pause(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for pause behind a latched stop, got %v", err)
	}
	if err := h.controller.Lap(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for lap behind a latched stop, got %v", err)
	}
	if status := h.controller.Status(); status.State != domain.SessionStateRecording || status.Pending != domain.StopReasonStop {
		t.Fatalf("stop must be latched until delivery, got %+v", status)
	}

	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()
	if h.controller.Status().State != domain.SessionStateIdle {
		t.Fatalf("expected idle")
	}
}

func TestSessionControllerStopUpgradesLatchedLap(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(4 * time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop after latched lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()

	note := h.controller.Note()
	if note.RawTranscript != "### Lap 1 (00:00 - 00:04)\n\nsegment 1" {
		t.Fatalf("unexpected raw transcript: %q", note.RawTranscript)
	}
	if h.controller.Status().State != domain.SessionStateIdle {
		t.Fatalf("expected idle")
	}
	if h.handle.startCount() != 1 {
		t.Fatalf("no further segment should start, got %d starts", h.handle.startCount())
	}
}

func TestSessionControllerStopImmediatelyAfterPause(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()

	note := h.controller.Note()
	if note.Duration != 2*time.Second {
		t.Fatalf("paused time must not be counted twice or at all, got %s", note.Duration)
	}
	if note.Laps[0].End != 2*time.Second {
		t.Fatalf("unexpected lap end: %s", note.Laps[0].End)
	}
}

func TestSessionControllerPauseResumeAccounting(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	h.clock.Advance(time.Minute)
	if got := h.controller.Status().Elapsed; got != 3*time.Second {
		t.Fatalf("elapsed must freeze while paused, got %s", got)
	}
	if err := h.controller.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	h.clock.Advance(4 * time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()

	if got := h.controller.Note().Duration; got != 7*time.Second {
		t.Fatalf("expected 7s, got %s", got)
	}
	if h.handle.pauseCount() != 1 || h.handle.resumeCount() != 1 {
		t.Fatalf("expected device pause and resume")
	}
}

func TestSessionControllerEmptyLapIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(domain.CapturedAudio{ContentType: "audio/wav"})
	h.controller.Wait()

	if h.transcriber.callCount() != 0 {
		t.Fatalf("empty lap must not be transcribed")
	}
	status := h.controller.Status()
	if status.State != domain.SessionStateRecording || status.Laps != 0 {
		t.Fatalf("unexpected status after skipped lap: %+v", status)
	}
	states := h.events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonLapSkipped {
		t.Fatalf("expected lap skipped reason, got %s", states[len(states)-1].reason)
	}

	h.clock.Advance(3 * time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("second"))
	h.controller.Wait()

	if raw := h.controller.Note().RawTranscript; raw != "### Lap 1 (00:00 - 00:05)\n\nsegment 1" {
		t.Fatalf("skipped time must fold into the next lap, got %q", raw)
	}
}

func TestSessionControllerEmptyStopGoesStraightToPolishing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	h.controller.Wait()

	h.clock.Advance(time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(domain.CapturedAudio{})
	h.controller.Wait()

	if h.transcriber.callCount() != 1 {
		t.Fatalf("empty final segment must not be transcribed")
	}
	if len(h.polisher.snapshotPrompts()) != 1 {
		t.Fatalf("expected polishing with the accumulated text")
	}
	note := h.controller.Note()
	if note.Duration != 2*time.Second {
		t.Fatalf("expected 2s, got %s", note.Duration)
	}
}

func TestSessionControllerNoSpeechAndNoTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.results = []fakeResult{{text: "   "}}
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("silence"))
	h.controller.Wait()

	if raw := h.controller.Note().RawTranscript; !strings.HasSuffix(raw, NoSpeechDetected) {
		t.Fatalf("expected no speech sentinel, got %q", raw)
	}

	empty := newHarness()
	if err := empty.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := empty.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	empty.handle.deliver(domain.CapturedAudio{})
	empty.controller.Wait()

	note := empty.controller.Note()
	if note.Polished != NoTranscriptResult {
		t.Fatalf("expected no transcript result, got %q", note.Polished)
	}
	if len(empty.polisher.snapshotPrompts()) != 0 {
		t.Fatalf("no polishing call expected for an empty transcript")
	}
	states := empty.events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonNoTranscript {
		t.Fatalf("unexpected final reason: %s", states[len(states)-1].reason)
	}
}

func TestSessionControllerPolishingOutcomes(t *testing.T) {
	t.Parallel()

	failing := newHarness()
	failing.polisher.err = errors.New("rate limited")
	failing.polisher.usage = &domain.Usage{PromptTokens: 40}
	runSingleSegment(t, failing)

	note := failing.controller.Note()
	if note.Polished != "[Polishing failed: rate limited]" {
		t.Fatalf("unexpected polished text: %q", note.Polished)
	}
	if note.RawTranscript == "" {
		t.Fatalf("raw transcript must survive a polishing failure")
	}
	if note.PromptTokens != 50 {
		t.Fatalf("usage from a failed polish must still apply, got %d", note.PromptTokens)
	}
	states := failing.events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonPolishFailed {
		t.Fatalf("unexpected final reason: %s", states[len(states)-1].reason)
	}

	empty := newHarness()
	empty.polisher.text = " "
	runSingleSegment(t, empty)
	states = empty.events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonPolishEmpty {
		t.Fatalf("unexpected final reason: %s", states[len(states)-1].reason)
	}
	if empty.controller.Note().RawTranscript == "" {
		t.Fatalf("raw transcript must survive an empty polish")
	}
}

func TestSessionControllerRulesApplyToSegments(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.controller.deps.Rules = &fakeRules{transform: "Kubernetes"}
	runSingleSegment(t, h)

	if raw := h.controller.Note().RawTranscript; !strings.HasSuffix(raw, "Kubernetes") {
		t.Fatalf("expected rules applied, got %q", raw)
	}
}

func TestSessionControllerAcquireFallback(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.device.errs = []error{errors.New("48kHz unsupported")}
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start with fallback failed: %v", err)
	}
	constraints := h.device.snapshotConstraints()
	if len(constraints) != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", len(constraints))
	}
	if constraints[1].SampleRate != 16000 || constraints[1].Channels != 1 {
		t.Fatalf("retry must use conservative settings, got %+v", constraints[1])
	}
	if h.controller.Status().State != domain.SessionStateRecording {
		t.Fatalf("expected recording")
	}
}

func TestSessionControllerAcquireFailureAbortsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness()
	first := errors.New("busy")
	second := errors.New("no such device")
	h.device.errs = []error{first, second}

	err := h.controller.Start(context.Background())
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both acquisition errors, got %v", err)
	}
	if got := h.device.acquireCount(); got != 2 {
		t.Fatalf("expected two attempts, got %d", got)
	}
	status := h.controller.Status()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("expected idle, got %+v", status)
	}
	states := h.events.snapshotStates()
	if len(states) != 1 || states[0].reason != domain.SessionReasonDeviceUnavailable {
		t.Fatalf("unexpected state events: %+v", states)
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeDeviceAcquisition {
		t.Fatalf("unexpected error events: %+v", errs)
	}

	// The controller is reusable after a failed start.
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
}

func TestSessionControllerRejectsInvalidIntents(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Pause(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if err := h.controller.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for resume while recording, got %v", err)
	}
	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := h.controller.Lap(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for lap while paused, got %v", err)
	}
}

func TestSessionControllerAbortReleasesDevice(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if h.handle.releaseCount() != 1 {
		t.Fatalf("expected device released")
	}
	if h.transcriber.callCount() != 0 || len(h.polisher.snapshotPrompts()) != 0 {
		t.Fatalf("abort must not call remote services")
	}
	states := h.events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonRecordingDiscarded {
		t.Fatalf("expected discarded reason, got %s", states[len(states)-1].reason)
	}
	if err := h.controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSessionControllerUsesModePreference(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.prefs.mode = "meeting"
	runSingleSegment(t, h)

	if got := h.controller.Note().ModeID; got != "meeting" {
		t.Fatalf("expected meeting mode, got %q", got)
	}
	if !strings.Contains(h.polisher.snapshotPrompts()[0], "Mode: Meeting") {
		t.Fatalf("prompt does not name the selected mode")
	}

	unknown := newHarness()
	unknown.prefs.mode = "missing"
	runSingleSegment(t, unknown)
	if got := unknown.controller.Note().ModeID; got != "notes" {
		t.Fatalf("expected fallback to default mode, got %q", got)
	}
}

func TestSessionControllerTickerOnlyWhileRecording(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.controller.ticker = newLiveTicker(time.Millisecond, h.clock.Now, h.events.DurationTick)

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !h.tickerRunning() {
		t.Fatalf("ticker should run while recording")
	}
	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if h.tickerRunning() {
		t.Fatalf("ticker should be suspended while paused")
	}
	if err := h.controller.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !h.tickerRunning() {
		t.Fatalf("ticker should restart on resume")
	}

	h.transcriber.gate = make(chan struct{})
	h.transcriber.entered = make(chan struct{}, 1)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	<-h.transcriber.entered
	if h.tickerRunning() {
		t.Fatalf("ticker should be suspended while processing")
	}
	close(h.transcriber.gate)
	h.controller.Wait()
	if !h.tickerRunning() {
		t.Fatalf("ticker should restart with the next segment")
	}

	if err := h.controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if h.tickerRunning() {
		t.Fatalf("ticker should stop on abort")
	}
}

func TestSessionControllerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.panicWith = "boom"

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()

	if status := h.controller.Status(); status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("expected idle after a processing panic, got %+v", status)
	}
	if h.handle.releaseCount() != 1 {
		t.Fatalf("expected device released after a processing panic")
	}
	errs := h.events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeInternal {
		t.Fatalf("expected internal error event, got %+v", errs)
	}
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("controller must be reusable, got %v", err)
	}
}

func TestSessionControllerCancelWithLatchedLapReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	cancel()
	h.controller.Wait()

	if status := h.controller.Status(); status.State != domain.SessionStateIdle || status.Active || status.Pending != domain.StopReasonNone {
		t.Fatalf("expected idle after cancellation, got %+v", status)
	}
	if h.handle.releaseCount() != 1 {
		t.Fatalf("expected device released after cancellation, got %d", h.handle.releaseCount())
	}
	if h.transcriber.callCount() != 0 || len(h.polisher.snapshotPrompts()) != 0 {
		t.Fatalf("cancellation must not call remote services")
	}
	if got := h.controller.Note().Duration; got != 2*time.Second {
		t.Fatalf("expected 2s folded into the note, got %s", got)
	}

	// A late delivery is ignored.
	h.handle.deliver(wavAudio("late"))

	if err := h.controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("controller must be reusable, got %v", err)
	}
}

func TestSessionControllerRestartFailureFinalizes(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.handle.failStarts(errors.New("device gone"))

	h.clock.Advance(3 * time.Second)
	if err := h.controller.Lap(); err != nil {
		t.Fatalf("lap failed: %v", err)
	}
	h.handle.deliver(wavAudio("first"))
	h.controller.Wait()

	status := h.controller.Status()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("expected idle after restart failure, got %+v", status)
	}
	if h.handle.releaseCount() != 1 {
		t.Fatalf("expected device released, got %d", h.handle.releaseCount())
	}
	if prompts := h.polisher.snapshotPrompts(); len(prompts) != 1 {
		t.Fatalf("expected exactly one polishing call, got %d", len(prompts))
	}
	note := h.controller.Note()
	if note.RawTranscript != "### Lap 1 (00:00 - 00:03)\n\nsegment 1" || note.Polished != "# Polished" {
		t.Fatalf("unexpected note: raw=%q polished=%q", note.RawTranscript, note.Polished)
	}

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeCapture || errs[0].detail != "device gone" {
		t.Fatalf("expected one capture error, got %+v", errs)
	}
	states := h.events.snapshotStates()
	if last := states[len(states)-1]; last.state != domain.SessionStateIdle || last.reason != domain.SessionReasonNoteReady {
		t.Fatalf("unexpected final state event: %+v", last)
	}
}

func TestSessionControllerCaptureErrorDelivery(t *testing.T) {
	t.Parallel()

	t.Run("lap is skipped", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		if err := h.controller.Start(context.Background()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		h.clock.Advance(time.Second)
		if err := h.controller.Lap(); err != nil {
			t.Fatalf("lap failed: %v", err)
		}
		h.handle.deliver(domain.CapturedAudio{Err: errors.New("recorder exited")})
		h.controller.Wait()

		status := h.controller.Status()
		if status.State != domain.SessionStateRecording || status.Laps != 0 {
			t.Fatalf("unexpected status after failed lap: %+v", status)
		}
		if h.transcriber.callCount() != 0 {
			t.Fatalf("failed segment must not be transcribed")
		}
		errs := h.events.snapshotErrors()
		if len(errs) != 1 || errs[0].code != domain.ErrorCodeCapture || errs[0].detail != "recorder exited" {
			t.Fatalf("expected one capture error, got %+v", errs)
		}
		states := h.events.snapshotStates()
		if last := states[len(states)-1]; last.reason != domain.SessionReasonLapSkipped {
			t.Fatalf("expected lap skipped reason, got %s", last.reason)
		}
	})

	t.Run("stop goes straight to polishing", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		if err := h.controller.Start(context.Background()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		h.clock.Advance(time.Second)
		if err := h.controller.Lap(); err != nil {
			t.Fatalf("lap failed: %v", err)
		}
		h.handle.deliver(wavAudio("first"))
		h.controller.Wait()

		h.clock.Advance(time.Second)
		if err := h.controller.Stop(); err != nil {
			t.Fatalf("stop failed: %v", err)
		}
		h.handle.deliver(domain.CapturedAudio{Err: errors.New("recorder exited")})
		h.controller.Wait()

		if h.transcriber.callCount() != 1 {
			t.Fatalf("failed final segment must not be transcribed")
		}
		if len(h.polisher.snapshotPrompts()) != 1 {
			t.Fatalf("expected polishing with the accumulated text")
		}
		if h.controller.Status().State != domain.SessionStateIdle || h.handle.releaseCount() != 1 {
			t.Fatalf("expected idle with the device released")
		}
		errs := h.events.snapshotErrors()
		if len(errs) != 1 || errs[0].code != domain.ErrorCodeCapture {
			t.Fatalf("expected one capture error, got %+v", errs)
		}
	})
}

func runSingleSegment(t *testing.T, h *harness) {
	t.Helper()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	h.handle.deliver(wavAudio("only"))
	h.controller.Wait()
}

func wavAudio(data string) domain.CapturedAudio {
	return domain.CapturedAudio{Data: []byte(data), ContentType: "audio/wav"}
}

type harness struct {
	controller  *SessionController
	device      *fakeCaptureDevice
	handle      *fakeHandle
	transcriber *fakeTranscriber
	polisher    *fakePolisher
	prefs       *fakePreferences
	events      *fakeEventSink
	clock       *fakeClock
}

func newHarness() *harness {
	h := &harness{
		handle:      &fakeHandle{},
		transcriber: &fakeTranscriber{},
		polisher:    &fakePolisher{text: "# Polished", usage: &domain.Usage{PromptTokens: 100, CompletionTokens: 50}},
		prefs:       &fakePreferences{tz: "America/New_York"},
		events:      &fakeEventSink{},
		clock:       newFakeClock(),
	}
	h.device = &fakeCaptureDevice{handle: h.handle}

	ids := 0
	h.controller = NewSessionController(Dependencies{
		Capture:     h.device,
		Transcriber: h.transcriber,
		Polisher:    h.polisher,
		Modes:       newFakeModes(),
		Preferences: h.prefs,
		Markup:      fakeMarkup{},
		Events:      h.events,
	}, Config{
		Capture:       ports.CaptureConstraints{SampleRate: 48000, Channels: 2, InputDevice: "hw:1"},
		DefaultModeID: "notes",
		Now:           h.clock.Now,
		NewID: func() string {
			ids++
			return "note-" + strconv.Itoa(ids)
		},
	})
	return h
}

func (h *harness) tickerRunning() bool {
	h.controller.mu.Lock()
	defer h.controller.mu.Unlock()
	return h.controller.ticker.Running()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCaptureDevice struct {
	mu          sync.Mutex
	handle      *fakeHandle
	errs        []error
	constraints []ports.CaptureConstraints
}

func (f *fakeCaptureDevice) Acquire(_ context.Context, constraints ports.CaptureConstraints) (ports.CaptureHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constraints = append(f.constraints, constraints)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.handle, nil
}

func (f *fakeCaptureDevice) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.constraints)
}

func (f *fakeCaptureDevice) snapshotConstraints() []ports.CaptureConstraints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.CaptureConstraints(nil), f.constraints...)
}

type fakeHandle struct {
	mu       sync.Mutex
	starts   int
	pauses   int
	resumes  int
	releases int
	stops    []chan domain.CapturedAudio
	startErr error
}

func (f *fakeHandle) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeHandle) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeHandle) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakeHandle) Stop() <-chan domain.CapturedAudio {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domain.CapturedAudio, 1)
	f.stops = append(f.stops, ch)
	return ch
}

func (f *fakeHandle) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

// deliver completes the most recent Stop request.
func (f *fakeHandle) deliver(audio domain.CapturedAudio) {
	f.mu.Lock()
	ch := f.stops[len(f.stops)-1]
	f.mu.Unlock()
	ch <- audio
	close(ch)
}

func (f *fakeHandle) failStarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeHandle) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeHandle) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

func (f *fakeHandle) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func (f *fakeHandle) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes
}

func (f *fakeHandle) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type fakeResult struct {
	text  string
	usage *domain.Usage
	err   error
}

// fakeTranscriber answers "segment N" with fixed usage unless results
// overrides the Nth call.
type fakeTranscriber struct {
	mu        sync.Mutex
	results   []fakeResult
	requests  []domain.TranscriptionRequest
	gate      chan struct{}
	entered   chan struct{}
	panicWith string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req domain.TranscriptionRequest) (domain.ServiceResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	result := fakeResult{text: "segment " + strconv.Itoa(n), usage: &domain.Usage{PromptTokens: 10, CompletionTokens: 5}}
	if n <= len(f.results) {
		result = f.results[n-1]
	}
	gate, entered, panicWith := f.gate, f.entered, f.panicWith
	f.mu.Unlock()

	if panicWith != "" {
		panic(panicWith)
	}
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return domain.ServiceResponse{Text: result.text, Usage: result.usage}, result.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakePolisher struct {
	mu      sync.Mutex
	text    string
	usage   *domain.Usage
	err     error
	prompts []string
}

func (f *fakePolisher) Polish(_ context.Context, req domain.PolishRequest) (domain.ServiceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	return domain.ServiceResponse{Text: f.text, Usage: f.usage}, f.err
}

func (f *fakePolisher) snapshotPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeModes struct {
	modes map[string]domain.Mode
}

func newFakeModes() *fakeModes {
	return &fakeModes{modes: map[string]domain.Mode{
		"notes":   domain.NewTemplateMode("notes", "Notes", "Organize into headed sections."),
		"meeting": domain.NewTemplateMode("meeting", "Meeting", "List decisions and action items."),
	}}
}

func (f *fakeModes) Lookup(id string) (domain.Mode, error) {
	mode, ok := f.modes[id]
	if !ok {
		return nil, errors.New("unknown mode " + id)
	}
	return mode, nil
}

func (f *fakeModes) Modes() []domain.Mode {
	return []domain.Mode{f.modes["notes"], f.modes["meeting"]}
}

type fakePreferences struct {
	tz   string
	mode string
}

func (f *fakePreferences) Timezone() string { return f.tz }
func (f *fakePreferences) ModeID() string   { return f.mode }

type fakeMarkup struct{}

func (fakeMarkup) Render(text string) (string, error) {
	return "<p>" + text + "</p>", nil
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []string
	ticks       []time.Duration
	notes       []domain.Note
	errors      []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, raw)
}

func (f *fakeEventSink) DurationTick(elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, elapsed)
}

func (f *fakeEventSink) NoteUpdated(note domain.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}
