// Package trigger runs cron-driven maintenance: pruning the durable
// memory tiers per the retention policy. The working tier is never swept
// here; its expiry is evaluated lazily at read time.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/policy"
)

// Pruner is the retention surface of the memory store.
type Pruner interface {
	PruneEpisodic(ctx context.Context, retentionDays int) (int64, error)
	PruneSemantic(ctx context.Context, unusedDays int) (int64, error)
}

var _ Pruner = (*memory.Store)(nil)

// Scheduler owns the retention cron. Expressions use the standard 5-field
// format: minute hour day-of-month month day-of-week.
type Scheduler struct {
	cron   *cron.Cron
	pruner Pruner
}

// NewScheduler creates a scheduler over the given pruner.
func NewScheduler(pruner Pruner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		pruner: pruner,
	}
}

// RegisterRetention adds the nightly retention sweep using the policy's
// retention windows. spec defaults to 03:00 daily when empty.
func (s *Scheduler) RegisterRetention(spec string, retention policy.Retention) error {
	if spec == "" {
		spec = "0 3 * * *"
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.sweep(ctx, retention)
	})
	if err != nil {
		return fmt.Errorf("registering retention cron %q: %w", spec, err)
	}
	return nil
}

// Sweep runs one retention pass immediately, outside the cron. Used by the
// CLI and by startup catch-up.
func (s *Scheduler) Sweep(ctx context.Context, retention policy.Retention) {
	s.sweep(ctx, retention)
}

func (s *Scheduler) sweep(ctx context.Context, retention policy.Retention) {
	episodic, err := s.pruner.PruneEpisodic(ctx, retention.EpisodicDays)
	if err != nil {
		log.Error().Err(err).Msg("episodic_prune_failed")
	}
	semantic, err := s.pruner.PruneSemantic(ctx, retention.SemanticUnusedDays)
	if err != nil {
		log.Error().Err(err).Msg("semantic_prune_failed")
	}
	log.Info().
		Int64("episodic_pruned", episodic).
		Int64("semantic_pruned", semantic).
		Int("episodic_days", retention.EpisodicDays).
		Int("semantic_unused_days", retention.SemanticUnusedDays).
		Msg("retention_sweep_completed")
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
