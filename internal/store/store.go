package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updatedAt REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	createdAt REAL NOT NULL,
	modeId TEXT NOT NULL,
	durationMs INTEGER NOT NULL,
	laps INTEGER NOT NULL,
	audioBytes INTEGER NOT NULL,
	promptTokens INTEGER NOT NULL,
	completionTokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	rawTranscript TEXT NOT NULL,
	polished TEXT NOT NULL
);
`

const (
	keyTimezone = "timezone"
	keyModeID   = "mode_id"
)

// Defaults are returned for preferences that were never set.
type Defaults struct {
	Timezone string
	ModeID   string
}

// Store keeps preferences and finished notes in SQLite.
type Store struct {
	db       *sql.DB
	defaults Defaults
}

// Open opens or creates the database. ":memory:" is accepted for tests.
func Open(path string, defaults Defaults) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, defaults: defaults}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Timezone returns the stored IANA zone or the default.
func (s *Store) Timezone() string {
	return s.lookup(keyTimezone, s.defaults.Timezone)
}

// ModeID returns the selected mode or the default.
func (s *Store) ModeID() string {
	return s.lookup(keyModeID, s.defaults.ModeID)
}

// SetTimezone validates and stores an IANA zone name.
func (s *Store) SetTimezone(tz string) error {
	tz = strings.TrimSpace(tz)
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	return s.set(keyTimezone, tz)
}

func (s *Store) SetModeID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("mode id cannot be empty")
	}
	return s.set(keyModeID, id)
}

func (s *Store) lookup(key, fallback string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, key, value, unixFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}

// withTimeout bounds history queries issued from the CLI.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
