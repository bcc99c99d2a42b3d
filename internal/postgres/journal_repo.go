package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Entry struct {
	ID          string
	SessionID   string
	Kind        string
	Identity    string
	DisplayName string
	Role        string
	Reason      string
	At          time.Time
}

const (
	schemaQuery = `
		CREATE TABLE IF NOT EXISTS session_events (
			id           uuid PRIMARY KEY,
			session_id   text        NOT NULL,
			kind         text        NOT NULL,
			identity     text        NOT NULL DEFAULT '',
			display_name text        NOT NULL DEFAULT '',
			role         text        NOT NULL DEFAULT '',
			reason       text        NOT NULL DEFAULT '',
			at           timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS session_events_session_at
			ON session_events (session_id, at DESC, id DESC);`

	appendQuery = `
		INSERT INTO session_events (id, session_id, kind, identity, display_name, role, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	historyQuery = `
		SELECT id, session_id, kind, identity, display_name, role, reason, at
		FROM session_events
		WHERE session_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR at < $2
		    OR (at = $2 AND id < $3::uuid)
		  )
		ORDER BY at DESC, id DESC
		LIMIT $4`
)

type JournalRepository struct {
	db *pgxpool.Pool
}

func NewJournalRepository(db *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaQuery); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Append is idempotent by entry ID.
func (r *JournalRepository) Append(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, appendQuery,
		e.ID, e.SessionID, e.Kind, e.Identity, e.DisplayName, e.Role, e.Reason, e.At)
	if err != nil {
		return fmt.Errorf("append %s: %w", e.Kind, err)
	}
	return nil
}

// History возвращает события сессии, новые первыми. next пуст на последней
// странице.
func (r *JournalRepository) History(ctx context.Context, sessionID string, page Page) (entries []Entry, next string, err error) {
	cur, err := ParseCursor(page.After)
	if err != nil {
		return nil, "", err
	}
	limit := page.size()

	var at, id any
	if cur != nil {
		at, id = cur.At, cur.ID.String()
	}

	rows, err := r.db.Query(ctx, historyQuery, sessionID, at, id, limit)
	if err != nil {
		return nil, "", fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Identity, &e.DisplayName, &e.Role, &e.Reason, &e.At); err != nil {
			return nil, "", fmt.Errorf("history scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("history: %w", err)
	}
	return entries, nextCursor(entries, limit), nil
}

func nextCursor(entries []Entry, limit int) string {
	if len(entries) < limit {
		return ""
	}
	last := entries[len(entries)-1]
	id, err := uuid.Parse(last.ID)
	if err != nil {
		return ""
	}
	return Cursor{At: last.At, ID: id}.String()
}
