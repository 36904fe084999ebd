// Package tracker records token usage per generation call in SQLite so
// spend per session and cache savings stay queryable across restarts.
// Recording is best-effort: callers log failures and move on.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	from_cache INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
`

// Record is one generation call's usage.
type Record struct {
	SessionID        string
	Kind             string // story | illustration | backdrop
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FromCache        bool
	CreatedAt        time.Time
}

// Totals aggregates usage across all sessions.
type Totals struct {
	Calls       int64 `json:"calls"`
	CacheHits   int64 `json:"cache_hits"`
	TotalTokens int64 `json:"total_tokens"`
}

type Tracker struct {
	db *sql.DB
}

// New opens (creating if needed) the tracker database.
func New(dbPath string) (*Tracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("tracker: open db: %w", err)
	}
	if _, err := db.Exec(createUsageTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: migrate db: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Add inserts one usage record.
func (t *Tracker) Add(ctx context.Context, rec Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	fromCache := 0
	if rec.FromCache {
		fromCache = 1
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (session_id, kind, model, prompt_tokens, completion_tokens, total_tokens, from_cache, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Kind, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		fromCache, createdAt,
	)
	if err != nil {
		return fmt.Errorf("tracker: insert record: %w", err)
	}
	return nil
}

// Totals returns call counts, cache-hit counts and token totals.
func (t *Tracker) Totals(ctx context.Context) (Totals, error) {
	var totals Totals
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(from_cache), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM usage_records`,
	).Scan(&totals.Calls, &totals.CacheHits, &totals.TotalTokens)
	if err != nil {
		return Totals{}, fmt.Errorf("tracker: totals: %w", err)
	}
	return totals, nil
}

// BySession returns the records for one session, oldest first.
func (t *Tracker) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT session_id, kind, model, prompt_tokens, completion_tokens, total_tokens, from_cache, created_at
		 FROM usage_records WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("tracker: query session: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var fromCache int
		if err := rows.Scan(
			&rec.SessionID, &rec.Kind, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&fromCache, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("tracker: scan record: %w", err)
		}
		rec.FromCache = fromCache == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}
