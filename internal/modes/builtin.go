package modes

import "lapnote/internal/domain"

// CustomID is the mode whose instructions the user edits.
const CustomID = "custom"

// DefaultID is selected when no preference is stored.
const DefaultID = "notes"

func builtins() []domain.Mode {
	return []domain.Mode{
		domain.NewTemplateMode("notes", "Notes", `Turn the transcript into well-organized notes.
Group related points under short headings. Use bullet points for details.
Keep the speaker's terminology and any numbers, names, or dates exactly as spoken.`),
		domain.NewTemplateMode("meeting", "Meeting Minutes", `Write meeting minutes.
Start with a one-paragraph summary, then sections for Attendees (from speaker labels), Discussion, Decisions, and Action Items.
Action items are a checklist with an owner when one is named.`),
		domain.NewTemplateMode("lecture", "Lecture Notes", `Write study notes for this lecture.
Outline the main topics in order, define key terms in bold, and finish with a short list of review questions.`),
		domain.NewTemplateMode("journal", "Journal Entry", `Rewrite this as a first-person journal entry.
Keep the speaker's voice and feelings. Remove filler words and false starts. Use paragraphs, not bullets.`),
		domain.NewTemplateMode("tasks", "Task List", `Extract every task, commitment, and follow-up as a Markdown checklist.
Group tasks by project or topic when the transcript makes that clear. Add due dates only when they were spoken.`),
		domain.NewTemplateMode("email", "Email Draft", `Draft an email from this dictation.
Include a subject line, a greeting, concise paragraphs, and a sign-off. Keep the tone the speaker used.`),
		domain.NewTemplateMode("clean", "Clean Transcript", `Return a cleaned-up transcript.
Keep the speaker labels and lap headings. Remove filler words, fix punctuation, and do not summarize.`),
	}
}
