package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lapnote/internal/audio"
	"lapnote/internal/config"
	"lapnote/internal/domain"
	"lapnote/internal/markup"
	"lapnote/internal/modes"
	"lapnote/internal/ports"
	"lapnote/internal/providers/deepgram"
	"lapnote/internal/providers/openai"
	"lapnote/internal/store"
	"lapnote/internal/usecase"
	"lapnote/internal/vocabulary"
)

// Options customizes Build. Zero values load configuration from disk and
// discard logs.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Capture replaces the ffmpeg recorder.
	Capture ports.CaptureDevice
	// ModeID overrides the persisted mode selection for this run.
	ModeID string
}

// Services is the assembled runtime graph.
type Services struct {
	Controller   *usecase.SessionController
	Config       config.Config
	Preferences  *store.Store
	Modes        *modes.Registry
	Instructions *modes.FileInstructions
	Close        func() error
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink, opts Options) (Services, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return Services{}, err
		}
		cfg = loaded
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	glossary, err := vocabulary.Load(cfg.Vocabulary.Path, cfg.Vocabulary.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	prefs, err := store.Open(cfg.Paths.PreferencesDB, store.Defaults{
		Timezone: cfg.Session.Timezone,
		ModeID:   cfg.Session.DefaultMode,
	})
	if err != nil {
		return Services{}, err
	}

	instructions := modes.NewFileInstructions(cfg.Paths.CustomModeFile, logger)
	registry := modes.NewRegistry(instructions)
	stopWatch := watchInstructions(instructions, logger)

	capture := opts.Capture
	if capture == nil {
		capture = audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger)
	}

	polisher := openai.NewClient(openai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		PolishModel:        cfg.OpenAI.PolishModel,
	})

	var preferences ports.Preferences = prefs
	if opts.ModeID != "" {
		if _, err := registry.Lookup(opts.ModeID); err != nil {
			stopWatch()
			prefs.Close()
			return Services{}, err
		}
		preferences = modeOverride{Preferences: prefs, id: opts.ModeID}
	}

	controller := usecase.NewSessionController(
		usecase.Dependencies{
			Capture:     capture,
			Transcriber: transcriberFor(cfg, polisher),
			Polisher:    polisher,
			Modes:       registry,
			Preferences: preferences,
			Markup:      markup.NewRenderer(),
			Rules:       glossary,
			Events:      events,
		},
		usecase.Config{
			Capture: ports.CaptureConstraints{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         cfg.Audio.Channels,
				InputFormat:      cfg.Audio.InputFormat,
				InputDevice:      cfg.Audio.InputDevice,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
			},
			Rates: domain.Rates{
				PromptPer1K:     cfg.Pricing.PromptPer1K,
				CompletionPer1K: cfg.Pricing.CompletionPer1K,
			},
			DefaultModeID: cfg.Session.DefaultMode,
			TickInterval:  cfg.Session.TickInterval,
			Logger:        logger,
		},
	)

	logger.Info("services ready",
		"provider", cfg.Transcription.Provider,
		"vocabulary_entries", glossary.Len(),
		"preferences_db", cfg.Paths.PreferencesDB,
	)

	return Services{
		Controller:   controller,
		Config:       cfg,
		Preferences:  prefs,
		Modes:        registry,
		Instructions: instructions,
		Close: func() error {
			// A lap in flight rejects the first abort and reopens a segment
			// once it lands, so abort again after it settles.
			_ = controller.Abort()
			controller.Wait()
			_ = controller.Abort()
			stopWatch()
			return prefs.Close()
		},
	}, nil
}

type modeOverride struct {
	ports.Preferences
	id string
}

func (m modeOverride) ModeID() string { return m.id }

func transcriberFor(cfg config.Config, fallback ports.Transcriber) ports.Transcriber {
	if cfg.Transcription.Provider != config.ProviderDeepgram {
		return fallback
	}
	return deepgram.NewTranscriber(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
		Diarize:     cfg.Deepgram.Diarize,
	})
}

// watchInstructions keeps the custom mode file cached while the process
// runs. Without a watcher the file is read on every polish.
func watchInstructions(instructions *modes.FileInstructions, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := instructions.Watch(ctx, ready); err != nil {
			logger.Warn("custom instructions watcher stopped", "path", instructions.Path(), "error", err)
		}
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		logger.Warn("custom instructions watcher slow to start", "path", instructions.Path())
	}

	return func() {
		cancel()
		<-done
	}
}

// Describe renders non-sensitive runtime details.
func Describe(cfg config.Config) map[string]string {
	model := cfg.OpenAI.TranscriptionModel
	if cfg.Transcription.Provider == config.ProviderDeepgram {
		model = cfg.Deepgram.Model
	}
	return map[string]string{
		"provider":         cfg.Transcription.Provider,
		"model":            model,
		"polishModel":      cfg.OpenAI.PolishModel,
		"vocabularyFile":   cfg.Vocabulary.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"notesDir":         cfg.Paths.NotesDir,
	}
}

// CheckCredentials reports missing API keys for the configured providers.
func CheckCredentials(cfg config.Config) error {
	var errs []error
	if cfg.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	if cfg.Transcription.Provider == config.ProviderDeepgram && cfg.Deepgram.APIKey == "" {
		errs = append(errs, fmt.Errorf("DEEPGRAM_API_KEY is not set (provider %q)", cfg.Transcription.Provider))
	}
	return errors.Join(errs...)
}
