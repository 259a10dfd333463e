package usecase

import (
	"fmt"
	"strings"

	"lapnote/internal/domain"
)

// transcriptAccumulator holds the session's raw transcript. The controller
// serializes access, so it carries no lock of its own.
type transcriptAccumulator struct {
	raw  string
	laps []domain.Lap
}

func newTranscriptAccumulator() *transcriptAccumulator {
	return &transcriptAccumulator{}
}

// Append adds one lap under its time-range header.
func (a *transcriptAccumulator) Append(lap domain.Lap, text string) {
	block := lapHeader(lap) + "\n\n" + strings.TrimSpace(text)
	if a.raw == "" {
		a.raw = block
	} else {
		a.raw += "\n\n" + block
	}
	a.laps = append(a.laps, lap)
}

// Set replaces the buffer with a single headerless result.
func (a *transcriptAccumulator) Set(text string) {
	a.raw = strings.TrimSpace(text)
	a.laps = nil
}

func (a *transcriptAccumulator) Raw() string {
	return a.raw
}

func (a *transcriptAccumulator) Laps() []domain.Lap {
	return append([]domain.Lap(nil), a.laps...)
}

func lapHeader(lap domain.Lap) string {
	return fmt.Sprintf("### Lap %d (%s - %s)", lap.Index, domain.FormatClock(lap.Start), domain.FormatClock(lap.End))
}
