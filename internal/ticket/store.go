// Package ticket persists escalation cases. A case is the durable handoff
// record a human picks up when the gate refuses to auto-respond.
package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/ticket")

// ErrCaseNotFound is returned when a case id does not exist.
var ErrCaseNotFound = errors.New("case not found")

// Case priorities, P0 most urgent. New cases default to P3 unless the
// classifier's urgency says otherwise.
const (
	PriorityP0 = "P0"
	PriorityP1 = "P1"
	PriorityP2 = "P2"
	PriorityP3 = "P3"
	PriorityP4 = "P4"
)

// Case statuses. A case is born open and only moves forward.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Case is one escalated request awaiting or under human handling.
type Case struct {
	CaseID       string    `json:"case_id"`
	SessionID    string    `json:"session_id"`
	TraceID      string    `json:"trace_id"`
	UserID       string    `json:"user_id"`
	QueryText    string    `json:"query_text"`
	Reason       string    `json:"reason"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	AssignedTeam string    `json:"assigned_team,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Creator is the narrow surface the orchestrator needs: file one case.
type Creator interface {
	Create(ctx context.Context, c *Case) error
}

const schema = `
CREATE TABLE IF NOT EXISTS cases (
    case_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    trace_id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    query_text TEXT NOT NULL,
    reason TEXT NOT NULL,
    priority TEXT NOT NULL,
    status TEXT NOT NULL,
    assigned_team TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_session ON cases(session_id);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);
`

// Store persists cases in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the case database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening case database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating case schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create files a new case. It assigns the id and stamps creation time;
// priority defaults to P3 and status to open when unset.
func (s *Store) Create(ctx context.Context, c *Case) error {
	ctx, span := tracer.Start(ctx, "ticket.create",
		trace.WithAttributes(
			attribute.String("session_id", c.SessionID),
			attribute.String("reason", c.Reason),
		))
	defer span.End()

	if c.CaseID == "" {
		c.CaseID = "case_" + uuid.New().String()[:12]
	}
	if c.Priority == "" {
		c.Priority = PriorityP3
	}
	if !validPriority(c.Priority) {
		return fmt.Errorf("invalid priority %q", c.Priority)
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (case_id, session_id, trace_id, user_id, query_text, reason,
		                    priority, status, assigned_team, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.SessionID, c.TraceID, c.UserID, c.QueryText, c.Reason,
		c.Priority, c.Status, c.AssignedTeam, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating case: %w", err)
	}
	span.SetAttributes(attribute.String("case_id", c.CaseID))
	return nil
}

// Get returns one case by id.
func (s *Store) Get(ctx context.Context, caseID string) (*Case, error) {
	ctx, span := tracer.Start(ctx, "ticket.get",
		trace.WithAttributes(attribute.String("case_id", caseID)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, session_id, trace_id, user_id, query_text, reason,
		        priority, status, assigned_team, created_at, updated_at
		 FROM cases WHERE case_id = ?`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying case: %w", err)
	}
	return c, nil
}

// List returns cases newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Case, error) {
	ctx, span := tracer.Start(ctx, "ticket.list",
		trace.WithAttributes(attribute.String("status", status)))
	defer span.End()

	query := `SELECT case_id, session_id, trace_id, user_id, query_text, reason,
	                 priority, status, assigned_team, created_at, updated_at
	          FROM cases`
	var args []interface{}
	if status != "" {
		if !validStatus(status) {
			return nil, fmt.Errorf("invalid status %q", status)
		}
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	defer rows.Close()

	var results []Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			continue
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

// UpdateStatus moves a case to a new status and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, caseID, status string) error {
	ctx, span := tracer.Start(ctx, "ticket.update_status",
		trace.WithAttributes(
			attribute.String("case_id", caseID),
			attribute.String("status", status),
		))
	defer span.End()

	if !validStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = ?, updated_at = ? WHERE case_id = ?`,
		status, time.Now().UTC(), caseID)
	if err != nil {
		return fmt.Errorf("updating case status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func validPriority(p string) bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*Case, error) {
	var c Case
	var createdRaw, updatedRaw interface{}
	err := row.Scan(&c.CaseID, &c.SessionID, &c.TraceID, &c.UserID, &c.QueryText,
		&c.Reason, &c.Priority, &c.Status, &c.AssignedTeam, &createdRaw, &updatedRaw)
	if err != nil {
		return nil, err
	}
	if t, ok := scanTime(createdRaw); ok {
		c.CreatedAt = t
	}
	if t, ok := scanTime(updatedRaw); ok {
		c.UpdatedAt = t
	}
	return &c, nil
}

func scanCaseRows(rows *sql.Rows) (*Case, error) {
	return scanCase(rows)
}

// scanTime handles SQLite returning datetime as either time.Time or string.
func scanTime(v interface{}) (t time.Time, ok bool) {
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
