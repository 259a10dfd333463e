package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

var ErrReleased = errors.New("capture device released")

const (
	probeWindow = 250 * time.Millisecond
	stopGrace   = 1200 * time.Millisecond
	readChunk   = 4096
)

// FFMPEGCapture records microphone PCM audio using ffmpeg. Each segment runs
// its own ffmpeg process; the device is probed once on Acquire.
type FFMPEGCapture struct {
	command string
	log     *slog.Logger
}

func NewFFMPEGCapture(command string, logger *slog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFMPEGCapture{command: command, log: logger}
}

// Acquire checks that ffmpeg can open the device with the given constraints.
func (c *FFMPEGCapture) Acquire(ctx context.Context, constraints ports.CaptureConstraints) (ports.CaptureHandle, error) {
	constraints = withDefaults(constraints)

	probe, err := c.spawn(ctx, constraints)
	if err != nil {
		return nil, err
	}
	select {
	case err := <-probe.waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(probe.stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(probeWindow):
	}
	_ = probe.stop()

	c.log.Debug("capture device acquired", "format", constraints.InputFormat, "device", constraints.InputDevice, "rate", constraints.SampleRate)
	return &ffmpegHandle{capture: c, ctx: ctx, constraints: constraints}, nil
}

func withDefaults(cfg ports.CaptureConstraints) ports.CaptureConstraints {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.CaptureConstraints) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
	if cfg.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)
}

func (c *FFMPEGCapture) spawn(ctx context.Context, cfg ports.CaptureConstraints) (*ffmpegProcess, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	return &ffmpegProcess{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegProcess struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// stop interrupts ffmpeg so it flushes, and kills it after a grace period.
func (p *ffmpegProcess) stop() error {
	p.stopOnce.Do(func() {
		if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if p.process != nil {
				_ = p.process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

// ffmpegHandle is one session's hold on the device.
type ffmpegHandle struct {
	capture     *FFMPEGCapture
	ctx         context.Context
	constraints ports.CaptureConstraints

	mu       sync.Mutex
	current  *segment
	paused   bool
	released bool
}

type segment struct {
	proc *ffmpegProcess

	mu       sync.Mutex
	pcm      bytes.Buffer
	readErr  error
	readDone chan struct{}
}

// Start discards anything left from a previous segment and begins capture.
func (h *ffmpegHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if h.current != nil {
		return errors.New("capture segment already running")
	}

	proc, err := h.capture.spawn(h.ctx, h.constraints)
	if err != nil {
		return err
	}
	seg := &segment{proc: proc, readDone: make(chan struct{})}
	h.current = seg
	h.paused = false
	go h.pump(seg)
	return nil
}

func (h *ffmpegHandle) pump(seg *segment) {
	defer close(seg.readDone)

	buf := make([]byte, readChunk)
	for {
		n, err := seg.proc.stdout.Read(buf)
		if n > 0 && !h.isPaused() {
			seg.mu.Lock()
			seg.pcm.Write(buf[:n])
			seg.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				seg.mu.Lock()
				seg.readErr = fmt.Errorf("audio capture error: %w", err)
				seg.mu.Unlock()
			}
			return
		}
	}
}

func (h *ffmpegHandle) isPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *ffmpegHandle) Pause() error {
	return h.setPaused(true)
}

func (h *ffmpegHandle) Resume() error {
	return h.setPaused(false)
}

func (h *ffmpegHandle) setPaused(paused bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if h.current == nil {
		return errors.New("no capture segment running")
	}
	h.paused = paused
	return nil
}

// Stop ends the running segment and delivers its audio as WAV. The channel
// yields exactly one value and is then closed.
func (h *ffmpegHandle) Stop() <-chan domain.CapturedAudio {
	delivered := make(chan domain.CapturedAudio, 1)

	h.mu.Lock()
	seg := h.current
	h.current = nil
	h.mu.Unlock()

	if seg == nil {
		delivered <- domain.CapturedAudio{Err: errors.New("no capture segment running")}
		close(delivered)
		return delivered
	}

	go func() {
		defer close(delivered)
		delivered <- h.collect(seg)
	}()
	return delivered
}

func (h *ffmpegHandle) collect(seg *segment) domain.CapturedAudio {
	stopErr := seg.proc.stop()
	<-seg.readDone

	seg.mu.Lock()
	pcm := append([]byte(nil), seg.pcm.Bytes()...)
	readErr := seg.readErr
	seg.mu.Unlock()

	out := domain.CapturedAudio{ContentType: WAVContentType, Err: errors.Join(stopErr, readErr)}
	if len(pcm) < 2 {
		return out
	}
	data, err := EncodeWAV(pcm, h.constraints.SampleRate, h.constraints.Channels)
	if err != nil {
		out.Err = errors.Join(out.Err, fmt.Errorf("encode segment: %w", err))
		return out
	}
	out.Data = data
	h.capture.log.Debug("segment captured", "pcm_bytes", len(pcm), "wav_bytes", len(data))
	return out
}

// Release stops any running segment and frees the device.
func (h *ffmpegHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	seg := h.current
	h.current = nil
	h.mu.Unlock()

	if seg == nil {
		return nil
	}
	err := seg.proc.stop()
	<-seg.readDone
	return err
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
