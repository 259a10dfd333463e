package output

import (
	"fmt"
	"io"
	"time"

	"lapnote/internal/domain"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	mark := "✅"
	if !ok {
		mark = "❌"
	}
	fmt.Fprintf(f.w, "%s %s: %s\n", mark, name, detail)
}

func (f *Formatter) NoteSaved(path string) {
	fmt.Fprintf(f.w, "📁 Note saved: %s\n", path)
}

func (f *Formatter) Usage(note domain.Note) {
	fmt.Fprintf(f.w, "💰 %s\n", UsageLine(note))
}

func (f *Formatter) ModeListItem(id, name string, selected bool) {
	marker := " "
	if selected {
		marker = "*"
	}
	fmt.Fprintf(f.w, "%s %-8s %s\n", marker, id, name)
}

func (f *Formatter) HistoryHeader() {
	fmt.Fprintf(f.w, "📁 Recent notes:\n\n")
}

func (f *Formatter) HistoryItem(createdAt time.Time, modeID string, duration time.Duration, laps int, cost float64, title string) {
	fmt.Fprintf(f.w, "  %s  %-8s %s  %d laps  $%.6f  %s\n",
		createdAt.Format("2006-01-02 15:04"), modeID, domain.FormatClock(duration), laps, cost, title)
}
