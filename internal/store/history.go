package store

import (
	"context"
	"fmt"
	"time"

	"lapnote/internal/domain"
)

// NoteSummary is one row of the note history.
type NoteSummary struct {
	ID               string
	CreatedAt        time.Time
	ModeID           string
	Duration         time.Duration
	Laps             int
	AudioBytes       int
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Polished         string
}

// SaveNote records a finished note. Saving the same note twice replaces it.
func (s *Store) SaveNote(ctx context.Context, note domain.Note) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notes (
			id, createdAt, modeId, durationMs, laps, audioBytes,
			promptTokens, completionTokens, cost, rawTranscript, polished
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		note.ID, unixFromTime(note.CreatedAt), note.ModeID, note.Duration.Milliseconds(), len(note.Laps), note.AudioSize,
		note.PromptTokens, note.CompletionTokens, note.Cost(), note.RawTranscript, note.Polished,
	)
	if err != nil {
		return fmt.Errorf("save note %s: %w", note.ID, err)
	}
	return nil
}

// RecentNotes returns up to limit notes, newest first.
func (s *Store) RecentNotes(ctx context.Context, limit int) ([]NoteSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, createdAt, modeId, durationMs, laps, audioBytes,
			promptTokens, completionTokens, cost, polished
		FROM notes
		ORDER BY createdAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []NoteSummary
	for rows.Next() {
		var n NoteSummary
		var createdAt float64
		var durationMs int64
		if err := rows.Scan(&n.ID, &createdAt, &n.ModeID, &durationMs, &n.Laps, &n.AudioBytes,
			&n.PromptTokens, &n.CompletionTokens, &n.Cost, &n.Polished); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = timeFromUnix(createdAt)
		n.Duration = time.Duration(durationMs) * time.Millisecond
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
