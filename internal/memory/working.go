package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkingKeyLastIncident names the session pointer to the most recent
// terminal decision. The memory writer refreshes it after every request;
// the next request on the session reads it back as a planning hint.
const WorkingKeyLastIncident = "last_incident"

// LastIncident is the value stored under WorkingKeyLastIncident.
type LastIncident struct {
	IncidentID string `json:"incident_id"`
	Outcome    string `json:"outcome"`
	Category   string `json:"category,omitempty"`
}

// WriteWorking upserts a session-scoped key. Last write wins; each write
// restarts the TTL clock. Values are opaque JSON.
func (s *Store) WriteWorking(ctx context.Context, sessionID, key string, value json.RawMessage, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "memory.working.write",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("key", key),
		))
	defer span.End()

	if sessionID == "" || key == "" {
		return fmt.Errorf("session id and key are required")
	}
	now := time.Now().UTC()
	err := execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO working_memory (session_id, key, value, updated_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, key) DO UPDATE SET
			     value = excluded.value,
			     updated_at = excluded.updated_at,
			     expires_at = excluded.expires_at`,
			sessionID, key, string(value), now, now.Add(ttl))
		return err
	})
	if err != nil {
		return fmt.Errorf("writing working memory: %w", err)
	}
	writesTotal.Add(ctx, 1, tierAttr("working"))
	return nil
}

// ReadWorking returns the value for a session key. Expiry is enforced at
// read time: a lapsed entry is removed and reported as ErrNotFound, so no
// background job races the TTL.
func (s *Store) ReadWorking(ctx context.Context, sessionID, key string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "memory.working.read",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("key", key),
		))
	defer span.End()

	var value string
	var expiresRaw interface{}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM working_memory WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&value, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading working memory: %w", err)
	}
	readsTotal.Add(ctx, 1, tierAttr("working"))

	if expiresAt, ok := scanTime(expiresRaw); ok && !expiresAt.After(time.Now().UTC()) {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM working_memory WHERE session_id = ? AND key = ?`, sessionID, key)
		workingExpired.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("expired", true))
		return nil, ErrNotFound
	}
	return json.RawMessage(value), nil
}

// SessionState returns all live working entries for a session, keyed by
// name. Expired entries are skipped and swept.
func (s *Store) SessionState(ctx context.Context, sessionID string) (map[string]json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "memory.working.session_state",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expires_at FROM working_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session state: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	state := make(map[string]json.RawMessage)
	var expired []string
	for rows.Next() {
		var key, value string
		var expiresRaw interface{}
		if err := rows.Scan(&key, &value, &expiresRaw); err != nil {
			continue
		}
		if expiresAt, ok := scanTime(expiresRaw); ok && !expiresAt.After(now) {
			expired = append(expired, key)
			continue
		}
		state[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, key := range expired {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM working_memory WHERE session_id = ? AND key = ?`, sessionID, key)
		workingExpired.Add(ctx, 1)
	}
	readsTotal.Add(ctx, 1, tierAttr("working"))
	return state, nil
}
