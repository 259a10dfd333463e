package domain

import "time"

// Note is the aggregate record of one recording session.
type Note struct {
	ID               string
	RawTranscript    string
	Polished         string
	PolishedHTML     string
	CreatedAt        time.Time
	Duration         time.Duration
	AudioSize        int
	ModeID           string
	PromptTokens     int
	CompletionTokens int
	Rates            Rates
	Laps             []Lap
}

// NewNote starts an empty note priced at rates.
func NewNote(id string, createdAt time.Time, modeID string, rates Rates) Note {
	return Note{ID: id, CreatedAt: createdAt, ModeID: modeID, Rates: rates}
}

// ApplyUsage adds one call's token counts to the running totals.
// A nil usage leaves the note untouched.
func (n *Note) ApplyUsage(usage *Usage) {
	if usage == nil {
		return
	}
	if usage.PromptTokens > 0 {
		n.PromptTokens += usage.PromptTokens
	}
	if usage.CompletionTokens > 0 {
		n.CompletionTokens += usage.CompletionTokens
	}
}

// Cost is derived from the cumulative token counts.
func (n Note) Cost() float64 {
	return n.Rates.CostOf(n.PromptTokens, n.CompletionTokens)
}

// Clone returns a copy that shares no slices with n.
func (n Note) Clone() Note {
	out := n
	if n.Laps != nil {
		out.Laps = append([]Lap(nil), n.Laps...)
	}
	return out
}
