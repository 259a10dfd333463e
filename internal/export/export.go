package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lapnote/internal/domain"
)

// Format selects the export encoding.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

const fileTimeLayout = "2006-01-02_150405"

// ParseFormat accepts "md", "markdown" or "json".
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q", value)
}

// FileName names an exported note after its start time and mode.
func FileName(note domain.Note, format Format) string {
	mode := note.ModeID
	if mode == "" {
		mode = "note"
	}
	return fmt.Sprintf("%s_%s.%s", note.CreatedAt.Format(fileTimeLayout), mode, format)
}

// Write renders note into dir and returns the written path.
func Write(dir string, note domain.Note, format Format, loc *time.Location) (string, error) {
	var data []byte
	switch format {
	case FormatJSON:
		encoded, err := JSON(note)
		if err != nil {
			return "", err
		}
		data = encoded
	default:
		format = FormatMarkdown
		data = []byte(Markdown(note, loc))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create notes dir: %w", err)
	}
	path := filepath.Join(dir, FileName(note, format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	return path, nil
}

// Markdown renders metadata, the polished document and the raw transcript.
func Markdown(note domain.Note, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Note %s\n\n", note.CreatedAt.In(loc).Format("2006-01-02 15:04 MST"))
	b.WriteString("| Field | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Mode | %s |\n", note.ModeID)
	fmt.Fprintf(&b, "| Duration | %s |\n", domain.FormatClock(note.Duration))
	fmt.Fprintf(&b, "| Laps | %d |\n", len(note.Laps))
	fmt.Fprintf(&b, "| Tokens | %d prompt / %d completion |\n", note.PromptTokens, note.CompletionTokens)
	fmt.Fprintf(&b, "| Cost | $%.6f |\n", note.Cost())

	if len(note.Laps) > 0 {
		b.WriteString("\n## Laps\n\n")
		for _, lap := range note.Laps {
			fmt.Fprintf(&b, "- Lap %d: %s - %s\n", lap.Index, domain.FormatClock(lap.Start), domain.FormatClock(lap.End))
		}
	}

	if polished := strings.TrimSpace(note.Polished); polished != "" {
		b.WriteString("\n## Document\n\n")
		b.WriteString(polished)
		b.WriteString("\n")
	}

	if raw := strings.TrimSpace(note.RawTranscript); raw != "" {
		b.WriteString("\n## Raw transcript\n\n")
		b.WriteString(raw)
		b.WriteString("\n")
	}
	return b.String()
}

type jsonNote struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	Mode             string       `json:"mode"`
	DurationSeconds  float64      `json:"duration_seconds"`
	AudioBytes       int          `json:"audio_bytes"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	Cost             float64      `json:"cost"`
	Laps             []domain.Lap `json:"laps"`
	RawTranscript    string       `json:"raw_transcript"`
	Polished         string       `json:"polished"`
	PolishedHTML     string       `json:"polished_html,omitempty"`
}

// JSON encodes note with derived cost included.
func JSON(note domain.Note) ([]byte, error) {
	laps := note.Laps
	if laps == nil {
		laps = []domain.Lap{}
	}
	data, err := json.MarshalIndent(jsonNote{
		ID:               note.ID,
		CreatedAt:        note.CreatedAt,
		Mode:             note.ModeID,
		DurationSeconds:  note.Duration.Seconds(),
		AudioBytes:       note.AudioSize,
		PromptTokens:     note.PromptTokens,
		CompletionTokens: note.CompletionTokens,
		Cost:             note.Cost(),
		Laps:             laps,
		RawTranscript:    note.RawTranscript,
		Polished:         note.Polished,
		PolishedHTML:     note.PolishedHTML,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode note: %w", err)
	}
	return append(data, '\n'), nil
}
