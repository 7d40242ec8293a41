// Package retention periodically enforces the archive retention policy
// (§4.2 `cleanup`, §4.4): permanently removing archived session records
// older than RetentionConfig.ArchiveRetentionDays. Grounded on the
// teacher's cleanup.Service ticker-driven sweep loop, adapted from a
// database soft-delete pass to a flat-file archive purge since this store
// keeps no database to soft-delete from.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// Service runs the periodic archive purge. All operations are idempotent
// and safe to run from multiple processes sharing the same data directory.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg *config.RetentionConfig, st *store.Store) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"archive_retention_days", s.config.ArchiveRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
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

func (s *Service) runAll(_ context.Context) {
	if s.config.ArchiveRetentionDays <= 0 {
		return // zero means keep archived records forever
	}
	s.purgeExpiredArchives()
}

func (s *Service) purgeExpiredArchives() {
	archived, err := s.store.ListArchived()
	if err != nil {
		slog.Error("retention: list archived failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-time.Duration(s.config.ArchiveRetentionDays) * 24 * time.Hour)
	purged := 0
	for _, sess := range archived {
		at, err := s.store.ArchivedAt(sess.ID)
		if err != nil || at.After(cutoff) {
			continue
		}
		if err := s.store.PurgeArchived(sess.ID); err != nil {
			slog.Error("retention: purge archived record failed", "session_id", sess.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("retention: purged expired archived records", "count", purged)
	}
}
