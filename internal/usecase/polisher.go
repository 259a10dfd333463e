package usecase

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"lapnote/internal/domain"
	"lapnote/internal/ports"
)

// NoTranscriptResult is the polished text when there was nothing to polish.
const NoTranscriptResult = "No transcript available."

const timestampLayout = "Monday, January 2, 2006 at 3:04 PM MST"

var promptTemplate = template.Must(template.New("polish").Parse(`You are turning a spoken recording into a written {{.ModeName}} document.

Recorded: {{.Timestamp}}
Location: {{.Location}}
Mode: {{.ModeName}}

Instructions:
{{.Instructions}}

Respond in Markdown. Do not invent content that is not supported by the transcript.

Transcript:
{{.Transcript}}
`))

type promptData struct {
	Location     string
	Timestamp    string
	ModeName     string
	Instructions string
	Transcript   string
}

type polishOutcome struct {
	Markup string
	HTML   string
	Usage  *domain.Usage
	Reason domain.SessionStateReason
}

type notePolisher struct {
	service     ports.Polisher
	modes       ports.ModeRegistry
	prefs       ports.Preferences
	markup      ports.MarkupRenderer
	events      ports.EventSink
	defaultMode string
}

func newNotePolisher(deps Dependencies, defaultMode string) notePolisher {
	return notePolisher{
		service:     deps.Polisher,
		modes:       deps.Modes,
		prefs:       deps.Preferences,
		markup:      deps.Markup,
		events:      deps.Events,
		defaultMode: defaultMode,
	}
}

// Polish issues at most one request. Usage is returned whatever the outcome.
func (p notePolisher) Polish(ctx context.Context, note domain.Note, raw string) polishOutcome {
	if strings.TrimSpace(raw) == "" {
		return polishOutcome{Markup: NoTranscriptResult, Reason: domain.SessionReasonNoTranscript}
	}

	prompt, err := p.BuildPrompt(note, raw)
	if err != nil {
		p.events.SessionError(domain.ErrorCodePolishing, err.Error())
		return polishOutcome{Markup: polishFailedMarker(err), Reason: domain.SessionReasonPolishFailed}
	}

	resp, err := p.service.Polish(ctx, domain.PolishRequest{Prompt: prompt})
	outcome := polishOutcome{Usage: resp.Usage}
	if err != nil {
		p.events.SessionError(domain.ErrorCodePolishing, err.Error())
		outcome.Markup = polishFailedMarker(err)
		outcome.Reason = domain.SessionReasonPolishFailed
		return outcome
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		outcome.Reason = domain.SessionReasonPolishEmpty
		return outcome
	}

	outcome.Markup = text
	outcome.Reason = domain.SessionReasonNoteReady
	if p.markup != nil {
		html, err := p.markup.Render(text)
		if err != nil {
			p.events.SessionError(domain.ErrorCodeMarkup, err.Error())
		} else {
			outcome.HTML = html
		}
	}
	return outcome
}

// BuildPrompt composes the single polishing prompt for note.
func (p notePolisher) BuildPrompt(note domain.Note, raw string) (string, error) {
	mode, err := p.resolveMode(note.ModeID)
	if err != nil {
		return "", err
	}
	instructions, err := mode.Instructions()
	if err != nil {
		return "", fmt.Errorf("mode %q: %w", mode.ID(), err)
	}

	tz := ""
	if p.prefs != nil {
		tz = p.prefs.Timezone()
	}
	loc, location := resolveLocation(tz)

	var b strings.Builder
	err = promptTemplate.Execute(&b, promptData{
		Location:     location,
		Timestamp:    note.CreatedAt.In(loc).Format(timestampLayout),
		ModeName:     mode.Name(),
		Instructions: strings.TrimSpace(instructions),
		Transcript:   raw,
	})
	if err != nil {
		return "", fmt.Errorf("render polishing prompt: %w", err)
	}
	return b.String(), nil
}

func (p notePolisher) resolveMode(id string) (domain.Mode, error) {
	if p.modes == nil {
		return nil, fmt.Errorf("no mode registry configured")
	}
	mode, err := p.modes.Lookup(id)
	if err == nil {
		return mode, nil
	}
	if p.defaultMode == "" || p.defaultMode == id {
		return nil, err
	}
	return p.modes.Lookup(p.defaultMode)
}

// resolveLocation maps a timezone identifier to its location and a
// human-readable place name taken from its last path segment.
func resolveLocation(tz string) (*time.Location, string) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, "UTC"
	}
	name := tz
	if idx := strings.LastIndex(tz, "/"); idx >= 0 {
		name = tz[idx+1:]
	}
	return loc, strings.ReplaceAll(name, "_", " ")
}

func polishFailedMarker(err error) string {
	return fmt.Sprintf("[Polishing failed: %s]", err.Error())
}
