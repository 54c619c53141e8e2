package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Incident outcome values. A pending outcome means the pipeline failed
// before the gate could resolve or escalate the request.
const (
	OutcomeResolved  = "resolved"
	OutcomeEscalated = "escalated"
	OutcomePending   = "pending"
)

// Incident is one completed request-handling episode.
type Incident struct {
	IncidentID string    `json:"incident_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	QueryText  string    `json:"query_text"`
	Resolution string    `json:"resolution"`
	Outcome    string    `json:"outcome"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
}

// WriteEpisodic appends one incident. History is append-only: a duplicate
// incident id returns ErrConflict and leaves the stored record untouched,
// which makes retried async writes idempotent.
func (s *Store) WriteEpisodic(ctx context.Context, inc *Incident) error {
	ctx, span := tracer.Start(ctx, "memory.episodic.write",
		trace.WithAttributes(
			attribute.String("incident_id", inc.IncidentID),
			attribute.String("outcome", inc.Outcome),
		))
	defer span.End()

	if inc.IncidentID == "" {
		return fmt.Errorf("incident id is required")
	}
	if inc.UserID == "" {
		inc.UserID = GlobalUser
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	tagsJSON, _ := json.Marshal(inc.Tags)
	if inc.Tags == nil {
		tagsJSON = []byte("[]")
	}

	err := execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO episodic_incidents
			 (incident_id, session_id, user_id, query_text, resolution, outcome, tags, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inc.IncidentID, inc.SessionID, inc.UserID, inc.QueryText,
			inc.Resolution, inc.Outcome, string(tagsJSON), inc.CreatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			conflictsTotal.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("conflict", true))
			return ErrConflict
		}
		return fmt.Errorf("writing incident: %w", err)
	}
	writesTotal.Add(ctx, 1, tierAttr("episodic"))
	return nil
}

// GetIncident returns one incident by id.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "memory.episodic.get",
		trace.WithAttributes(attribute.String("incident_id", incidentID)))
	defer span.End()

	incidents, err := s.queryIncidents(ctx,
		`SELECT incident_id, session_id, user_id, query_text, resolution, outcome, tags, created_at
		 FROM episodic_incidents WHERE incident_id = ?`, incidentID)
	if err != nil {
		return nil, err
	}
	if len(incidents) == 0 {
		return nil, ErrNotFound
	}
	return &incidents[0], nil
}

// SearchEpisodic returns incidents matching the query text, newest first on
// equal rank. When userID is non-empty the search covers that user's
// incidents plus globally-filed ones; an empty userID searches everything.
func (s *Store) SearchEpisodic(ctx context.Context, query, userID string, limit int) ([]Incident, error) {
	ctx, span := tracer.Start(ctx, "memory.episodic.search",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("limit", limit),
		))
	defer span.End()

	var sqlQuery string
	var args []interface{}

	if s.hasFTS5 {
		match := ftsQuery(query)
		if match == "" {
			return nil, nil
		}
		sqlQuery = `SELECT e.incident_id, e.session_id, e.user_id, e.query_text,
		                   e.resolution, e.outcome, e.tags, e.created_at
		            FROM episodic_incidents e
		            JOIN episodic_fts f ON e.rowid = f.rowid
		            WHERE f.episodic_fts MATCH ?`
		args = []interface{}{match}
		if userID != "" {
			sqlQuery += ` AND e.user_id IN (?, ?)`
			args = append(args, userID, GlobalUser)
		}
		sqlQuery += ` ORDER BY rank, e.created_at DESC`
	} else {
		sqlQuery = `SELECT incident_id, session_id, user_id, query_text,
		                   resolution, outcome, tags, created_at
		            FROM episodic_incidents
		            WHERE (query_text LIKE ? OR resolution LIKE ? OR tags LIKE ?)`
		likePattern := "%" + query + "%"
		args = []interface{}{likePattern, likePattern, likePattern}
		if userID != "" {
			sqlQuery += ` AND user_id IN (?, ?)`
			args = append(args, userID, GlobalUser)
		}
		sqlQuery += ` ORDER BY created_at DESC`
	}
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	incidents, err := s.queryIncidents(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	readsTotal.Add(ctx, 1, tierAttr("episodic"))
	span.SetAttributes(attribute.Int("matched", len(incidents)))
	return incidents, nil
}

// SearchEpisodicByTag returns incidents carrying the given tag, newest
// first, using the same user-plus-global visibility as SearchEpisodic.
func (s *Store) SearchEpisodicByTag(ctx context.Context, tag, userID string, limit int) ([]Incident, error) {
	ctx, span := tracer.Start(ctx, "memory.episodic.search_tag",
		trace.WithAttributes(attribute.String("tag", tag)))
	defer span.End()

	// Tags are stored as a JSON array; match the quoted element.
	sqlQuery := `SELECT incident_id, session_id, user_id, query_text,
	                    resolution, outcome, tags, created_at
	             FROM episodic_incidents WHERE tags LIKE ?`
	args := []interface{}{`%"` + tag + `"%`}
	if userID != "" {
		sqlQuery += ` AND user_id IN (?, ?)`
		args = append(args, userID, GlobalUser)
	}
	sqlQuery += ` ORDER BY created_at DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	incidents, err := s.queryIncidents(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	readsTotal.Add(ctx, 1, tierAttr("episodic"))
	return incidents, nil
}

// ftsQuery turns free text into an FTS5 expression: each token quoted, all
// joined with OR, so user punctuation cannot break the MATCH syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...interface{}) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var results []Incident
	for rows.Next() {
		var inc Incident
		var tagsJSON string
		var createdRaw interface{}
		if err := rows.Scan(&inc.IncidentID, &inc.SessionID, &inc.UserID,
			&inc.QueryText, &inc.Resolution, &inc.Outcome, &tagsJSON, &createdRaw); err != nil {
			continue
		}
		if t, ok := scanTime(createdRaw); ok {
			inc.CreatedAt = t
		}
		_ = json.Unmarshal([]byte(tagsJSON), &inc.Tags)
		if inc.Tags == nil {
			inc.Tags = []string{}
		}
		results = append(results, inc)
	}
	return results, rows.Err()
}
