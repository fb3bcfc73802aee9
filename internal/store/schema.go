package store

import (
	"context"
	"database/sql"
	"fmt"
)

// pragmas are applied to every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// ─────────────────────────────────────────────────────────────────────────────
// Session history DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT     PRIMARY KEY,
    session_id      TEXT     NOT NULL,
    started_at_ms   INTEGER  NOT NULL DEFAULT 0,
    duration_ns     INTEGER  NOT NULL DEFAULT 0,
    mime_type       TEXT     NOT NULL DEFAULT '',
    audio_bytes     INTEGER  NOT NULL DEFAULT 0,
    summary_json    TEXT     NOT NULL DEFAULT '{}',
    kind            TEXT     NOT NULL,
    pitch_hz        REAL     NOT NULL DEFAULT 0,
    stability       REAL     NOT NULL DEFAULT 0,
    score           REAL     NOT NULL DEFAULT 0,
    message         TEXT     NOT NULL DEFAULT '',
    created_at_ms   INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_created_at
    ON sessions (created_at_ms);
`

// Migrate creates the history tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: migrate: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, ddlSessions); err != nil {
		return fmt.Errorf("store: migrate: sessions: %w", err)
	}
	return nil
}
