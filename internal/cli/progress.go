package cli

import (
	"time"

	"lapnote/internal/domain"
	"lapnote/internal/output"
)

// progressSink prints session events for non-interactive commands.
type progressSink struct {
	f *output.Formatter
}

func (p progressSink) SessionStateChanged(_ domain.SessionState, reason domain.SessionStateReason) {
	switch reason {
	case domain.SessionReasonPolishFailed, domain.SessionReasonPolishEmpty, domain.SessionReasonNoTranscript:
		p.f.Warning(output.SessionReasonMessage(reason))
	default:
		if msg := output.SessionReasonMessage(reason); msg != "" {
			p.f.Info(msg)
		}
	}
}

func (progressSink) TranscriptUpdated(string)   {}
func (progressSink) DurationTick(time.Duration) {}
func (progressSink) NoteUpdated(domain.Note)    {}

func (p progressSink) SessionError(code domain.ErrorCode, detail string) {
	p.f.Error(output.ErrorLine(code, detail))
}
