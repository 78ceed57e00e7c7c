// Package audit keeps a sqlite log of dispatch activity: rule fires, job
// fires and radio sends. It is how an operator tells "nothing matched" from
// "something was misconfigured".
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventKind classifies an audit entry.
type EventKind string

const (
	KindRuleFire   EventKind = "rule_fire"
	KindJobFire    EventKind = "job_fire"
	KindPluginCall EventKind = "plugin_call"
	KindSend       EventKind = "send"
)

// Entry is one audited dispatch event.
type Entry struct {
	Timestamp time.Time
	Kind      EventKind
	Source    string // rule id, job name, or plugin.method
	Sender    string // triggering node, empty for scheduled work
	Recipient string
	Channel   int
	Chars     int // content length sent on the air
	Success   bool
	Error     string
	Duration  time.Duration
}

// Logger writes audit entries to sqlite.
type Logger struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at dbPath.
func Open(dbPath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	l := &Logger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return l, nil
}

func (l *Logger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatch_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		sender TEXT,
		recipient TEXT,
		channel INTEGER,
		chars INTEGER,
		success BOOLEAN,
		error TEXT,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_timestamp ON dispatch_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dispatch_kind ON dispatch_log(kind);
	CREATE INDEX IF NOT EXISTS idx_dispatch_source ON dispatch_log(source);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one entry. A zero timestamp is filled with now.
func (l *Logger) Record(ctx context.Context, e *Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dispatch_log (
			timestamp, kind, source, sender, recipient,
			channel, chars, success, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp,
		e.Kind,
		e.Source,
		e.Sender,
		e.Recipient,
		e.Channel,
		e.Chars,
		e.Success,
		e.Error,
		e.Duration.Milliseconds(),
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT timestamp, kind, source, sender, recipient,
		       channel, chars, success, error, duration_ms
		FROM dispatch_log ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		if err := rows.Scan(
			&e.Timestamp, &e.Kind, &e.Source, &e.Sender, &e.Recipient,
			&e.Channel, &e.Chars, &e.Success, &e.Error, &durationMs,
		); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Stats summarizes activity for one kind since a cutoff.
type Stats struct {
	Total      int
	Successful int
	ErrorRate  float64
}

// StatsSince computes per-kind counts since the cutoff.
func (l *Logger) StatsSince(ctx context.Context, kind EventKind, since time.Time) (*Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0)
		FROM dispatch_log WHERE kind = ? AND timestamp >= ?`,
		kind, since,
	).Scan(&s.Total, &s.Successful)
	if err != nil {
		return nil, err
	}
	if s.Total > 0 {
		s.ErrorRate = float64(s.Total-s.Successful) / float64(s.Total)
	}
	return &s, nil
}

// Close closes the database.
func (l *Logger) Close() error {
	return l.db.Close()
}
