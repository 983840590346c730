package core

// scheduler.go runs background maintenance for the revision store.
//
// Each edit stores a full serialization of the file, so long edit sessions
// grow the store quickly. The prune job keeps the newest revisions of every
// file and drops the rest. It logs failures and keeps running.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PruneConfig holds configuration for the prune scheduler.
type PruneConfig struct {
	KeepRevisions int           // Revisions kept per file, 0 disables pruning
	CheckInterval time.Duration // How often to run (default: 1h)
}

// StartPruneScheduler prunes old revisions immediately and then every
// CheckInterval until ctx is cancelled. It returns at once when pruning
// is disabled.
func (s *Service) StartPruneScheduler(ctx context.Context, cfg PruneConfig) {
	if cfg.KeepRevisions <= 0 {
		slog.Info("prune scheduler disabled")
		return
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	slog.Info("prune scheduler started",
		"keep_revisions", cfg.KeepRevisions,
		"interval", cfg.CheckInterval,
	)

	s.runPruneJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("prune scheduler stopped")
			return
		case <-ticker.C:
			s.runPruneJob(ctx, cfg)
		}
	}
}

// runPruneJob performs one prune pass.
func (s *Service) runPruneJob(ctx context.Context, cfg PruneConfig) {
	start := time.Now()
	pruned, err := s.Prune(ctx, cfg.KeepRevisions)
	if err != nil {
		slog.Error("prune failed", "error", err)
		return
	}
	slog.Info("prune job completed",
		"revisions_pruned", pruned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Prune keeps the newest keep revisions of every file.
func (s *Service) Prune(ctx context.Context, keep int) (int64, error) {
	pruned, err := s.store.PruneRevisions(ctx, keep)
	if err != nil {
		return 0, err
	}
	s.metrics.Pruned.Add(float64(pruned))
	if pruned > 0 {
		s.LogAudit(ctx, AuditLogParams{Action: ActionPrune, Detail: fmt.Sprintf("kept %d revisions per file", keep)})
	}
	return pruned, nil
}
