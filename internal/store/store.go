// Package store persists the history of finished tuning sessions in a local
// SQLite database.
//
// Each row holds the session metadata, the pitch summary sent to the scoring
// service and the diagnosis that came back (success or error variant). The
// encoded audio itself is not stored, only its size.
//
// Usage:
//
//	st, err := store.Open(ctx, "vocascan.db")
//	if err != nil { … }
//	defer st.Close()
//
//	_, _ = st.Save(ctx, store.EntryFrom(rec, summary, diagnosis))
//	recent, _ := st.Recent(ctx, 10)
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// Entry is one finished session in the history.
type Entry struct {
	// ID uniquely identifies the history row. Assigned by [Store.Save] when
	// empty.
	ID string

	// SessionID is the engine's recording ID.
	SessionID string

	StartedAt  time.Time
	Duration   time.Duration
	MIMEType   string
	AudioBytes int

	Summary   pitch.Summary
	Diagnosis scoring.Diagnosis

	// CreatedAt is set by [Store.Save] when zero.
	CreatedAt time.Time
}

// EntryFrom builds an Entry for a finished session. rec may be nil for a
// session that never produced a recording.
func EntryFrom(rec *engine.Recording, summary pitch.Summary, d scoring.Diagnosis) Entry {
	e := Entry{Summary: summary, Diagnosis: d}
	if rec != nil {
		e.SessionID = rec.ID
		e.StartedAt = rec.StartedAt
		e.Duration = rec.Duration
		e.MIMEType = rec.MIMEType
		e.AudioBytes = len(rec.Audio)
	}
	return e
}

// Store is a SQLite-backed session history. All methods are safe for
// concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and runs [Migrate].
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// SQLite allows a single writer; one connection keeps writes serialised.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %q: %w", path, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Save appends e to the history and returns the stored entry with ID and
// CreatedAt filled in.
func (s *Store) Save(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return Entry{}, fmt.Errorf("store: save: encode summary: %w", err)
	}

	const q = `
		INSERT INTO sessions
		    (id, session_id, started_at_ms, duration_ns, mime_type, audio_bytes,
		     summary_json, kind, pitch_hz, stability, score, message, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		unixMilli(e.StartedAt),
		e.Duration.Nanoseconds(),
		e.MIMEType,
		e.AudioBytes,
		string(summary),
		e.Diagnosis.Kind.String(),
		e.Diagnosis.Pitch,
		e.Diagnosis.Stability,
		e.Diagnosis.Score,
		e.Diagnosis.Message,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("store: save: %w", err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns nothing.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	const q = `
		SELECT id, session_id, started_at_ms, duration_ns, mime_type, audio_bytes,
		       summary_json, kind, pitch_hz, stability, score, message, created_at_ms
		FROM   sessions
		ORDER  BY created_at_ms DESC, rowid DESC
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			startedMS, createdMS int64
			durationNS           int64
			summaryJSON, kind    string
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &startedMS, &durationNS, &e.MIMEType, &e.AudioBytes,
			&summaryJSON, &kind, &e.Diagnosis.Pitch, &e.Diagnosis.Stability,
			&e.Diagnosis.Score, &e.Diagnosis.Message, &createdMS,
		); err != nil {
			return nil, fmt.Errorf("store: recent: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &e.Summary); err != nil {
			return nil, fmt.Errorf("store: recent: decode summary of %s: %w", e.ID, err)
		}
		e.Diagnosis.Kind = scoring.KindSuccess
		if kind == scoring.KindError.String() {
			e.Diagnosis.Kind = scoring.KindError
		}
		if startedMS != 0 {
			e.StartedAt = time.UnixMilli(startedMS)
		}
		e.Duration = time.Duration(durationNS)
		e.CreatedAt = time.UnixMilli(createdMS)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return entries, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
