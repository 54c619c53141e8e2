// Package obslog persists per-task execution records for offline
// inspection. Writes happen off the request path; losing one degrades
// observability, never correctness.
package obslog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/obslog")

// Record is one agent task's execution summary.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id"`
	AgentName  string    `json:"agent_name"`
	TaskID     string    `json:"task_id"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    trace_id TEXT NOT NULL,
    agent_name TEXT NOT NULL,
    task_id TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
`

// Log persists execution records in SQLite.
type Log struct {
	db *sql.DB
}

// NewLog opens the execution database and initializes the schema.
func NewLog(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening execution database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating execution schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends a batch of execution records in one transaction.
func (l *Log) Record(ctx context.Context, records []Record) error {
	ctx, span := tracer.Start(ctx, "obslog.record",
		trace.WithAttributes(attribute.Int("record_count", len(records))))
	defer span.End()

	if len(records) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			r.ID = "exec_" + uuid.New().String()[:12]
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO executions (id, session_id, trace_id, agent_name, task_id, duration_ms, outcome, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.SessionID, r.TraceID, r.AgentName, r.TaskID, r.DurationMS, r.Outcome, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("writing execution record: %w", err)
		}
	}
	return tx.Commit()
}

// List returns execution records newest first, optionally filtered by
// session.
func (l *Log) List(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "obslog.list",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	query := `SELECT id, session_id, trace_id, agent_name, task_id, duration_ms, outcome, created_at
	          FROM executions`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		var createdRaw interface{}
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TraceID, &r.AgentName,
			&r.TaskID, &r.DurationMS, &r.Outcome, &createdRaw); err != nil {
			continue
		}
		if t, ok := scanTime(createdRaw); ok {
			r.CreatedAt = t
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanTime(v interface{}) (time.Time, bool) {
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
