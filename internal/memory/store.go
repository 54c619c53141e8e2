// Package memory persists the engine's three memory tiers in SQLite:
// working (per-session scratch state with TTL), episodic (append-only
// incident history), and semantic (usage bookkeeping for knowledge chunks
// whose content lives in the retrieval index).
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/memory")

// ErrNotFound is returned when a key or incident does not exist, including
// working entries whose TTL has lapsed.
var ErrNotFound = errors.New("memory entry not found")

// ErrConflict is returned when an episodic write reuses an incident id.
// Episodic history is append-only; callers must mint a new id instead.
var ErrConflict = errors.New("incident id already recorded")

// GlobalUser is the sentinel under which incidents visible to every user
// are filed. User-scoped searches always include it.
const GlobalUser = "all_users"

const schema = `
CREATE TABLE IF NOT EXISTS working_memory (
    session_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, key)
);

CREATE INDEX IF NOT EXISTS idx_working_expires ON working_memory(expires_at);

CREATE TABLE IF NOT EXISTS episodic_incidents (
    incident_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    query_text TEXT NOT NULL,
    resolution TEXT NOT NULL,
    outcome TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodic_user ON episodic_incidents(user_id);
CREATE INDEX IF NOT EXISTS idx_episodic_created ON episodic_incidents(created_at);

CREATE TABLE IF NOT EXISTS semantic_chunks (
    content_hash TEXT PRIMARY KEY,
    source_id TEXT NOT NULL DEFAULT '',
    access_count INTEGER NOT NULL DEFAULT 0,
    first_seen TIMESTAMP NOT NULL,
    last_accessed TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_semantic_last_accessed ON semantic_chunks(last_accessed);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS episodic_fts USING fts5(
    query_text, resolution, tags,
    content=episodic_incidents,
    content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS episodic_ai AFTER INSERT ON episodic_incidents BEGIN
    INSERT INTO episodic_fts(rowid, query_text, resolution, tags)
    VALUES (new.rowid, new.query_text, new.resolution, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS episodic_ad AFTER DELETE ON episodic_incidents BEGIN
    INSERT INTO episodic_fts(episodic_fts, rowid, query_text, resolution, tags)
    VALUES ('delete', old.rowid, old.query_text, old.resolution, old.tags);
END;
`

// Store persists all three tiers in a single SQLite database. Full-text
// search over episodic history uses FTS5 when the SQLite build supports it
// and degrades to LIKE queries otherwise.
type Store struct {
	db      *sql.DB
	hasFTS5 bool
}

// NewStore opens the memory database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating memory schema: %w", err)
	}

	hasFTS5 := true
	if _, err := db.ExecContext(context.Background(), ftsSchema); err != nil {
		hasFTS5 = false
	}

	return &Store{db: db, hasFTS5: hasFTS5}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// execWithRetry runs fn with retries on SQLite busy/locked errors.
func execWithRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 15
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return err
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteLocked(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func sleepRetry(ctx context.Context, attempt int) error {
	backoff := time.Duration(attempt*attempt) * 20 * time.Millisecond
	if backoff > 250*time.Millisecond {
		backoff = 250 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(backoff):
		return nil
	}
}

// isSQLiteLocked reports whether the error is SQLite busy/locked (retryable).
func isSQLiteLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "locked")
}

// scanTime scans a column that may be time.Time or string (SQLite returns
// datetime as string depending on driver settings).
func scanTime(v interface{}) (t time.Time, ok bool) {
	if v == nil {
		return time.Time{}, false
	}
	switch val := v.(type) {
	case time.Time:
		return val, true
	case []byte:
		return parseSQLiteTime(string(val))
	case string:
		return parseSQLiteTime(val)
	}
	return time.Time{}, false
}

func parseSQLiteTime(s string) (time.Time, bool) {
	parsed, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
