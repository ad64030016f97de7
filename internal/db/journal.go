package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/events"
)

// Journal records every session and request served by sparcd.
type Journal struct {
	db *Database
}

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID       string     `json:"id"`
	Remote   string     `json:"remote"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Reason   string     `json:"reason"`
	Status   int        `json:"status"`
	Requests int        `json:"requests"`
	BytesIn  int64      `json:"bytes_in"`
	BytesOut int64      `json:"bytes_out"`
}

// RequestRecord is one row of the requests table.
type RequestRecord struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Kind      string        `json:"kind"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	BytesIn   int64         `json:"bytes_in"`
	BytesOut  int64         `json:"bytes_out"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// JournalStats summarizes the journal contents.
type JournalStats struct {
	Sessions int64 `json:"sessions"`
	Requests int64 `json:"requests"`
}

// OpenJournal opens the journal database and migrates its schema.
func OpenJournal(path string) (*Journal, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}
	if err := j.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

// migrate creates the database schema.
func (j *Journal) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			remote TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 200,
			requests INTEGER NOT NULL DEFAULT 0,
			bytes_in INTEGER NOT NULL DEFAULT 0,
			bytes_out INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			status INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			bytes_in INTEGER NOT NULL,
			bytes_out INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_opened ON sessions(opened_at);
		CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);
	`
	_, err := j.db.Exec(ctx, schema)
	return err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.db.Path()
}

// Attach subscribes the journal to session events on bus.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe("journal", j.handleEvent,
		events.EventSessionOpened,
		events.EventRequestHandled,
		events.EventSessionClosed,
	)
}

func (j *Journal) handleEvent(ctx context.Context, event events.Event) error {
	switch p := event.Payload.(type) {
	case events.SessionOpenedPayload:
		return j.RecordOpened(ctx, p)
	case events.RequestHandledPayload:
		return j.RecordRequest(ctx, p, event.Time)
	case events.SessionClosedPayload:
		return j.RecordClosed(ctx, p)
	default:
		log.Debug().Str("event", string(event.Type)).Msg("journal ignored event")
		return nil
	}
}

// RecordOpened inserts a new session row.
func (j *Journal) RecordOpened(ctx context.Context, p events.SessionOpenedPayload) error {
	_, err := j.db.Exec(ctx,
		"INSERT INTO sessions (id, remote, opened_at) VALUES (?, ?, ?)",
		p.SessionID, p.Remote, p.OpenedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal session %s: %w", p.SessionID, err)
	}
	return nil
}

// RecordRequest inserts one request row.
func (j *Journal) RecordRequest(ctx context.Context, p events.RequestHandledPayload, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.Exec(ctx,
		`INSERT INTO requests (session_id, kind, status, duration_us, bytes_in, bytes_out, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.Kind, p.Status, p.Duration.Microseconds(), p.BytesIn, p.BytesOut, p.Error, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal request for %s: %w", p.SessionID, err)
	}
	return nil
}

// RecordClosed completes a session row.
func (j *Journal) RecordClosed(ctx context.Context, p events.SessionClosedPayload) error {
	_, err := j.db.Exec(ctx,
		`UPDATE sessions SET closed_at = ?, reason = ?, status = ?, requests = ?, bytes_in = ?, bytes_out = ?
		 WHERE id = ?`,
		p.ClosedAt.UnixNano(), p.Reason, p.Status, p.Requests, p.BytesIn, p.BytesOut, p.SessionID,
	)
	if err != nil {
		return fmt.Errorf("journal close %s: %w", p.SessionID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(ctx,
		`SELECT id, remote, opened_at, closed_at, reason, status, requests, bytes_in, bytes_out
		 FROM sessions ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var opened int64
		var closed sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Remote, &opened, &closed, &rec.Reason, &rec.Status,
			&rec.Requests, &rec.BytesIn, &rec.BytesOut); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.OpenedAt = time.Unix(0, opened)
		if closed.Valid {
			t := time.Unix(0, closed.Int64)
			rec.ClosedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionRequests returns the requests of one session in arrival order.
func (j *Journal) SessionRequests(ctx context.Context, sessionID string) ([]RequestRecord, error) {
	rows, err := j.db.Query(ctx,
		`SELECT id, session_id, kind, status, duration_us, bytes_in, bytes_out, error, created_at
		 FROM requests WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		var micros, created int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Kind, &rec.Status, &micros,
			&rec.BytesIn, &rec.BytesOut, &rec.Error, &created); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rec.Duration = time.Duration(micros) * time.Microsecond
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes closed sessions opened before the cutoff, with their
// requests, and returns how many sessions were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := j.db.Transaction(ctx, func(tx *sql.Tx) error {
		cutoff := before.UnixNano()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM requests WHERE session_id IN
			 (SELECT id FROM sessions WHERE opened_at < ? AND closed_at IS NOT NULL)`, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sessions WHERE opened_at < ? AND closed_at IS NOT NULL", cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return removed, nil
}

// Stats counts journal rows.
func (j *Journal) Stats(ctx context.Context) (JournalStats, error) {
	var s JournalStats
	if err := j.db.QueryRow(ctx, "SELECT COUNT(*) FROM sessions").Scan(&s.Sessions); err != nil {
		return s, fmt.Errorf("count sessions: %w", err)
	}
	if err := j.db.QueryRow(ctx, "SELECT COUNT(*) FROM requests").Scan(&s.Requests); err != nil {
		return s, fmt.Errorf("count requests: %w", err)
	}
	return s, nil
}
