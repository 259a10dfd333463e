package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config stores runtime configuration for lapnote.
type Config struct {
	Transcription TranscriptionConfig `toml:"transcription"`
	OpenAI        OpenAIConfig        `toml:"openai"`
	Deepgram      DeepgramConfig      `toml:"deepgram"`
	Audio         AudioConfig         `toml:"audio"`
	Vocabulary    VocabularyConfig    `toml:"vocabulary"`
	Session       SessionConfig       `toml:"session"`
	Pricing       PricingConfig       `toml:"pricing"`
	Paths         PathsConfig         `toml:"paths"`
	Log           LogConfig           `toml:"log"`
}

const (
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
)

type TranscriptionConfig struct {
	Provider string `toml:"provider"`
}

type OpenAIConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	TranscriptionModel string `toml:"transcription_model"`
	PolishModel        string `toml:"polish_model"`
}

type DeepgramConfig struct {
	APIKey      string `toml:"api_key"`
	APIBaseURL  string `toml:"api_base_url"`
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	SmartFormat bool   `toml:"smart_format"`
	Diarize     bool   `toml:"diarize"`
}

type AudioConfig struct {
	RecorderCommand  string `toml:"recorder_command"`
	InputFormat      string `toml:"input_format"`
	InputDevice      string `toml:"input_device"`
	SampleRate       int    `toml:"sample_rate"`
	Channels         int    `toml:"channels"`
	NoiseSuppression bool   `toml:"noise_suppression"`
}

type VocabularyConfig struct {
	Path           string `toml:"path"`
	IterationLimit int    `toml:"iteration_limit"`
}

type SessionConfig struct {
	TickInterval time.Duration `toml:"tick_interval"`
	DefaultMode  string        `toml:"default_mode"`
	Timezone     string        `toml:"timezone"`
}

// PricingConfig holds USD prices per 1000 tokens.
type PricingConfig struct {
	PromptPer1K     float64 `toml:"prompt_per_1k"`
	CompletionPer1K float64 `toml:"completion_per_1k"`
}

type PathsConfig struct {
	NotesDir       string `toml:"notes_dir"`
	PreferencesDB  string `toml:"preferences_db"`
	CustomModeFile string `toml:"custom_mode_file"`
	LogFile        string `toml:"log_file"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads .env, then the config file, then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	dir, err := configDir()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(envOrDefault("LAPNOTE_CONFIG", filepath.Join(dir, "config.toml")))
}

// LoadFile resolves configuration from path (optional) and the environment.
func LoadFile(path string) (Config, error) {
	dir, err := configDir()
	if err != nil {
		return Config{}, err
	}
	home, _ := os.UserHomeDir()

	cfg := defaults(dir, home)
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg, dir)
	return cfg, nil
}

func configDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "lapnote"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "lapnote"), nil
}

func defaults(dir, home string) Config {
	return Config{
		Transcription: TranscriptionConfig{Provider: ProviderOpenAI},
		OpenAI: OpenAIConfig{
			TranscriptionModel: "gpt-4o-transcribe",
			PolishModel:        "gpt-4o-mini",
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Audio: AudioConfig{
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			NoiseSuppression: true,
		},
		Vocabulary: VocabularyConfig{
			Path:           filepath.Join(dir, "vocabulary.glossary"),
			IterationLimit: 30,
		},
		Session: SessionConfig{
			TickInterval: time.Second,
			DefaultMode:  "notes",
		},
		Pricing: PricingConfig{
			PromptPer1K:     0.00015,
			CompletionPer1K: 0.0006,
		},
		Paths: PathsConfig{
			NotesDir:       filepath.Join(home, "lapnote"),
			PreferencesDB:  filepath.Join(dir, "lapnote.sqlite"),
			CustomModeFile: filepath.Join(dir, "custom_mode.md"),
			LogFile:        filepath.Join(dir, "lapnote.log"),
		},
		Log: LogConfig{Level: "info"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Transcription.Provider = envOrDefault("LAPNOTE_TRANSCRIPTION_PROVIDER", cfg.Transcription.Provider)

	cfg.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.TranscriptionModel = envOrDefault("LAPNOTE_TRANSCRIPTION_MODEL", cfg.OpenAI.TranscriptionModel)
	cfg.OpenAI.PolishModel = envOrDefault("LAPNOTE_POLISH_MODEL", cfg.OpenAI.PolishModel)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Diarize = envOrDefaultBool("DEEPGRAM_DIARIZE", cfg.Deepgram.Diarize)

	cfg.Audio.RecorderCommand = envOrDefault("LAPNOTE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("LAPNOTE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = lo.CoalesceOrEmpty(
		strings.TrimSpace(os.Getenv("LAPNOTE_AUDIO_INPUT_DEVICE")),
		strings.TrimSpace(os.Getenv("PULSE_SOURCE")),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("LAPNOTE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LAPNOTE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("LAPNOTE_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)

	cfg.Vocabulary.Path = envOrDefault("LAPNOTE_VOCABULARY_FILE", cfg.Vocabulary.Path)
	cfg.Vocabulary.IterationLimit = envOrDefaultInt("LAPNOTE_VOCABULARY_ITERATION_LIMIT", cfg.Vocabulary.IterationLimit)

	cfg.Session.TickInterval = envOrDefaultDuration("LAPNOTE_TICK_INTERVAL", cfg.Session.TickInterval)
	cfg.Session.DefaultMode = envOrDefault("LAPNOTE_DEFAULT_MODE", cfg.Session.DefaultMode)
	cfg.Session.Timezone = envOrDefault("LAPNOTE_TIMEZONE", cfg.Session.Timezone)

	cfg.Pricing.PromptPer1K = envOrDefaultFloat("LAPNOTE_PROMPT_PER_1K", cfg.Pricing.PromptPer1K)
	cfg.Pricing.CompletionPer1K = envOrDefaultFloat("LAPNOTE_COMPLETION_PER_1K", cfg.Pricing.CompletionPer1K)

	cfg.Paths.NotesDir = envOrDefault("LAPNOTE_NOTES_DIR", cfg.Paths.NotesDir)
	cfg.Paths.PreferencesDB = envOrDefault("LAPNOTE_PREFERENCES_DB", cfg.Paths.PreferencesDB)
	cfg.Paths.CustomModeFile = envOrDefault("LAPNOTE_CUSTOM_MODE_FILE", cfg.Paths.CustomModeFile)
	cfg.Paths.LogFile = envOrDefault("LAPNOTE_LOG_FILE", cfg.Paths.LogFile)

	cfg.Log.Level = envOrDefault("LAPNOTE_LOG_LEVEL", cfg.Log.Level)
}

func normalize(cfg *Config, dir string) {
	cfg.Transcription.Provider = strings.ToLower(strings.TrimSpace(cfg.Transcription.Provider))
	if !lo.Contains([]string{ProviderOpenAI, ProviderDeepgram}, cfg.Transcription.Provider) {
		cfg.Transcription.Provider = ProviderOpenAI
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Vocabulary.IterationLimit <= 0 {
		cfg.Vocabulary.IterationLimit = 30
	}
	if cfg.Session.TickInterval < 50*time.Millisecond {
		cfg.Session.TickInterval = time.Second
	}
	if cfg.Pricing.PromptPer1K < 0 {
		cfg.Pricing.PromptPer1K = 0
	}
	if cfg.Pricing.CompletionPer1K < 0 {
		cfg.Pricing.CompletionPer1K = 0
	}
	cfg.Paths.PreferencesDB = lo.Ternary(cfg.Paths.PreferencesDB == "", filepath.Join(dir, "lapnote.sqlite"), cfg.Paths.PreferencesDB)
	cfg.Paths.NotesDir = expandHome(cfg.Paths.NotesDir)
	cfg.Paths.PreferencesDB = expandHome(cfg.Paths.PreferencesDB)
	cfg.Paths.CustomModeFile = expandHome(cfg.Paths.CustomModeFile)
	cfg.Paths.LogFile = expandHome(cfg.Paths.LogFile)
	cfg.Vocabulary.Path = expandHome(cfg.Vocabulary.Path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
