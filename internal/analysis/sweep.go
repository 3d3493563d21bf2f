package analysis

import (
	"context"
	"log/slog"
	"time"

	"auditdesk/pkg/store"
)

const (
	// DefaultSweepInterval is how often stuck documents are looked for.
	DefaultSweepInterval = time.Minute
)

// Sweeper reclaims documents stuck in processing past the timeout, typically
// after a crash mid-run. Reclamation goes through the store's conditional
// update, so overlapping sweeps on different replicas fire at most once per
// document.
type Sweeper struct {
	store    store.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(s store.Store, logger *slog.Logger, interval, timeout time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	return &Sweeper{store: s, logger: logger, interval: interval, timeout: timeout}
}

// Run loops until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce reclaims every document stuck past the timeout and returns how
// many were reclaimed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.timeout)
	stale, err := s.store.ListStaleProcessing(cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "sweep: list stale failed", "error", err)
		return 0
	}
	reclaimed := 0
	for _, doc := range stale {
		won, err := s.store.MarkTimedOut(doc.ID, cutoff)
		if err != nil {
			s.logger.WarnContext(ctx, "sweep: mark timed out failed",
				"documentId", doc.ID, "error", err)
			continue
		}
		if won {
			reclaimed++
			s.logger.InfoContext(ctx, "sweep: reclaimed stuck document",
				"documentId", doc.ID)
		}
	}
	return reclaimed
}
