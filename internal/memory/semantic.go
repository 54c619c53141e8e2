package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChunkUsage is the bookkeeping record for one knowledge chunk. The chunk
// content itself lives in the retrieval index; this tier only tracks how
// often retrieval surfaces it, which drives unused-chunk pruning.
type ChunkUsage struct {
	ContentHash  string    `json:"content_hash"`
	SourceID     string    `json:"source_id"`
	AccessCount  int64     `json:"access_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastAccessed time.Time `json:"last_accessed"`
}

// TouchSemantic records one retrieval hit for a chunk, inserting the row on
// first sight. Touching is idempotent in shape: repeated touches only bump
// the counter and the last-accessed stamp.
func (s *Store) TouchSemantic(ctx context.Context, contentHash, sourceID string) error {
	ctx, span := tracer.Start(ctx, "memory.semantic.touch",
		trace.WithAttributes(attribute.String("content_hash", contentHash)))
	defer span.End()

	if contentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	now := time.Now().UTC()
	err := execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO semantic_chunks (content_hash, source_id, access_count, first_seen, last_accessed)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT(content_hash) DO UPDATE SET
			     access_count = access_count + 1,
			     last_accessed = excluded.last_accessed`,
			contentHash, sourceID, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("touching semantic chunk: %w", err)
	}
	writesTotal.Add(ctx, 1, tierAttr("semantic"))
	return nil
}

// ChunkStats returns the usage record for one chunk.
func (s *Store) ChunkStats(ctx context.Context, contentHash string) (*ChunkUsage, error) {
	ctx, span := tracer.Start(ctx, "memory.semantic.stats")
	defer span.End()

	var u ChunkUsage
	var firstRaw, lastRaw interface{}
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, source_id, access_count, first_seen, last_accessed
		 FROM semantic_chunks WHERE content_hash = ?`, contentHash).
		Scan(&u.ContentHash, &u.SourceID, &u.AccessCount, &firstRaw, &lastRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk stats: %w", err)
	}
	if t, ok := scanTime(firstRaw); ok {
		u.FirstSeen = t
	}
	if t, ok := scanTime(lastRaw); ok {
		u.LastAccessed = t
	}
	readsTotal.Add(ctx, 1, tierAttr("semantic"))
	return &u, nil
}
