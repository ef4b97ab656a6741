package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var ErrNotFound = errors.New("not found")

// timeLayout keeps stored timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05Z"

var schemaQueries = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT,
		role TEXT,
		content TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		bill_id TEXT,
		vendor TEXT,
		amount REAL,
		due_date TEXT,
		remind_at TEXT,
		days_before INTEGER,
		channel TEXT,
		recipient TEXT,
		status TEXT DEFAULT 'pending',
		sent_at TEXT,
		error_message TEXT,
		created_at TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders (status, remind_at);`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT,
		metadata TEXT,
		embedding BLOB,
		created_at TEXT
	);`,
}

// Open opens (creating if needed) the agent database at path.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	for _, q := range schemaQueries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return db, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
