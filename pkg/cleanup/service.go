// Package cleanup enforces revision retention in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/store"
)

// Service periodically re-applies the revision cap across every stored
// itinerary. The change engine prunes inline after each apply, but a prune
// there can fail without failing the apply, and documents written while the
// cap was unset keep their full history. The sweep closes both gaps.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention sweeper.
func NewService(cfg *config.RetentionConfig, st store.Store) *Service {
	return &Service{
		config: cfg,
		store:  st,
	}
}

// Enabled reports whether the sweep loop would do anything. Both the cap and
// the interval must be set.
func (s *Service) Enabled() bool {
	return s.config.MaxRevisions > 0 && s.config.SweepInterval > 0
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"max_revisions", s.config.MaxRevisions,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneRevisions(ctx)
}

func (s *Service) pruneRevisions(ctx context.Context) {
	items, err := s.store.List(ctx, "")
	if err != nil {
		slog.Error("Retention: list itineraries failed", "error", err)
		return
	}

	pruned := 0
	for _, item := range items {
		n, err := s.store.PruneRevisions(ctx, item.ID, s.config.MaxRevisions)
		if err != nil {
			slog.Error("Retention: prune failed", "itinerary_id", item.ID, "error", err)
			continue
		}
		pruned += n
	}
	if pruned > 0 {
		slog.Info("Retention: pruned revisions", "count", pruned, "itineraries", len(items))
	}
}
