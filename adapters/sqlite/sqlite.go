package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open creates a new SQLite database connection with settings suited to a single
// service owning the file.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // Enable Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL", // Good balance of safety and performance
		"PRAGMA cache_size=10000",   // Increase cache size for better performance
		"PRAGMA foreign_keys=ON",    // Enable foreign key constraints
		"PRAGMA temp_store=MEMORY",  // Store temporary tables in memory
		"PRAGMA busy_timeout=5000",  // Wait up to 5 seconds for locks
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// InitSchema creates all required tables for the store and streamer adapters.
// Timestamps are stored as unix milliseconds so range comparisons stay exact.
func InitSchema(db *sql.DB) error {
	schema := `
-- Runs table for the Store
CREATE TABLE IF NOT EXISTS workflow_runs (
    id               TEXT NOT NULL PRIMARY KEY,
    project_id       TEXT NOT NULL,
    action           TEXT NOT NULL,
    idempotency_key  TEXT NOT NULL,
    trigger_context  BLOB,
    created_at       INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_project_action_key
    ON workflow_runs (project_id, action, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_runs_project_created_at
    ON workflow_runs (project_id, created_at);

-- Sends table for the Store
CREATE TABLE IF NOT EXISTS workflow_sends (
    id           TEXT NOT NULL PRIMARY KEY,
    run_id       TEXT NOT NULL,
    project_id   TEXT NOT NULL,
    action       TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    status       INTEGER NOT NULL,
    sent_at      INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sends_run_recipient
    ON workflow_sends (run_id, recipient);
CREATE INDEX IF NOT EXISTS idx_sends_project_action_sent_at
    ON workflow_sends (project_id, action, sent_at);

-- Attributions table for the Store
CREATE TABLE IF NOT EXISTS workflow_attributions (
    id                TEXT NOT NULL PRIMARY KEY,
    project_id        TEXT NOT NULL,
    run_id            TEXT NOT NULL,
    payment_event_id  TEXT NOT NULL,
    model             TEXT NOT NULL,
    method            INTEGER NOT NULL,
    confidence        INTEGER NOT NULL,
    amount_minor      INTEGER NOT NULL,
    currency          TEXT NOT NULL,
    attributed_at     INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attributions_payment_event_id
    ON workflow_attributions (payment_event_id);
CREATE INDEX IF NOT EXISTS idx_attributions_run_id
    ON workflow_attributions (run_id);

-- Outbox table for the transactional outbox pattern
CREATE TABLE IF NOT EXISTS workflow_outbox (
    id          TEXT NOT NULL PRIMARY KEY,
    project_id  TEXT NOT NULL,
    data        BLOB,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_created_at
    ON workflow_outbox (created_at);

-- Events table for the EventStreamer
CREATE TABLE IF NOT EXISTS workflow_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    topic      TEXT NOT NULL,
    foreign_id TEXT NOT NULL,
    type       INTEGER NOT NULL,
    headers    TEXT NOT NULL, -- JSON encoded headers
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_topic_id
    ON workflow_events (topic, id);

-- Consumer cursors table for the EventStreamer
CREATE TABLE IF NOT EXISTS workflow_cursors (
    topic        TEXT NOT NULL,
    consumer     TEXT NOT NULL,
    position     INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (topic, consumer)
);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	return nil
}
