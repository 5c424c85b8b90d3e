// Package journal records fan-out outcomes in SQLite for the ops endpoint.
// It stores counts only: event payloads are never persisted and nothing is
// ever replayed to late joiners.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_journal (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT    NOT NULL,
	order_id    INTEGER NOT NULL DEFAULT 0,
	recipients  INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_journal_created_at ON delivery_journal(created_at);
`

// Entry is one recorded fan-out.
type Entry struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"eventType"`
	OrderID    int64     `json:"orderId,omitempty"`
	Recipients int       `json:"recipients"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Journal is a SQLite-backed delivery log.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the journal database and applies the schema.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db, log: log.With().Str("component", "journal").Logger()}, nil
}

// Record appends one fan-out outcome. Journal failures are reported to the
// caller, which treats them as non-fatal: the journal is observability,
// not a source of truth.
func (j *Journal) Record(ctx context.Context, eventType string, orderID int64, recipients int) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO delivery_journal (event_type, order_id, recipients) VALUES (?, ?, ?)`,
		eventType, orderID, recipients)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_type, order_id, recipients, created_at
		 FROM delivery_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventType, &e.OrderID, &e.Recipients, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
