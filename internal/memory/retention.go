package memory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PruneEpisodic deletes incidents older than retentionDays and returns the
// number removed. Working memory is never swept here; its expiry is
// enforced lazily at read time.
func (s *Store) PruneEpisodic(ctx context.Context, retentionDays int) (int64, error) {
	ctx, span := tracer.Start(ctx, "memory.episodic.prune",
		trace.WithAttributes(attribute.Int("retention_days", retentionDays)))
	defer span.End()

	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM episodic_incidents WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning episodic incidents: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		prunedTotal.Add(ctx, affected, tierAttr("episodic"))
	}
	span.SetAttributes(attribute.Int64("pruned", affected))
	return affected, nil
}

// PruneSemantic deletes chunk bookkeeping rows not accessed within
// unusedDays and returns the number removed.
func (s *Store) PruneSemantic(ctx context.Context, unusedDays int) (int64, error) {
	ctx, span := tracer.Start(ctx, "memory.semantic.prune",
		trace.WithAttributes(attribute.Int("unused_days", unusedDays)))
	defer span.End()

	if unusedDays <= 0 {
		return 0, fmt.Errorf("unused days must be positive, got %d", unusedDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -unusedDays)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_chunks WHERE last_accessed < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning semantic chunks: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		prunedTotal.Add(ctx, affected, tierAttr("semantic"))
	}
	span.SetAttributes(attribute.Int64("pruned", affected))
	return affected, nil
}
