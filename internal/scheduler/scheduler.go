// Package scheduler drives periodic cache refreshes: a cron-scheduled
// sync run whose result replaces the cached project list, with bounded
// retries that keep the stale entry alive while the store recovers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"github.com/tgasco/portfolio-sync/internal/cache"
	"github.com/tgasco/portfolio-sync/internal/pipeline"
)

// RunFunc executes one sync pass and returns the projects to cache.
type RunFunc func(ctx context.Context) ([]pipeline.Project, error)

// Config holds configuration for the refresh scheduler.
type Config struct {
	// CronSpec is the refresh schedule. Defaults to 04:00 daily.
	CronSpec string
	// CacheKey is the cache entry the scheduler maintains.
	CacheKey string
	// RetryDelay is the fixed pause between retry attempts.
	RetryDelay time.Duration
	// MaxAttempts bounds the attempts per refresh, initial try
	// included.
	MaxAttempts int
}

// Scheduler owns the refresh lifecycle for one cache entry.
type Scheduler struct {
	cfg   Config
	run   RunFunc
	cache *cache.ProjectCache
	cron  *cron.Cron
}

// New creates a Scheduler and registers its cron entry. Start must be
// called before any refresh runs.
func New(ctx context.Context, cfg Config, run RunFunc, c *cache.ProjectCache) (*Scheduler, error) {
	if cfg.CronSpec == "" {
		cfg.CronSpec = "0 4 * * *"
	}
	if cfg.CacheKey == "" {
		cfg.CacheKey = "projects"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	s := &Scheduler{
		cfg:   cfg,
		run:   run,
		cache: c,
		cron:  cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.CronSpec, func() {
		if err := s.Refresh(ctx); err != nil {
			slog.Error("Scheduled refresh failed", "err", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("register cron spec %q: %w", cfg.CronSpec, err)
	}

	return s, nil
}

// Start begins cron scheduling and kicks off an immediate refresh so
// the cache is warm before the first scheduled run.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		if err := s.Refresh(ctx); err != nil {
			slog.Error("Initial refresh failed", "err", err)
		}
	}()
}

// Stop halts cron scheduling. Refreshes already in flight run to
// completion unless their context is canceled.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Refresh executes the sync run, retrying on failure with a fixed
// delay. Every failed attempt extends the cached entry's TTL so
// consumers keep seeing the previous result during recovery. When all
// attempts are exhausted the error is returned and the next scheduled
// run tries again.
func (s *Scheduler) Refresh(ctx context.Context) error {
	attempt := 0

	operation := func() error {
		attempt++
		projects, err := s.run(ctx)
		if err != nil {
			return err
		}
		s.cache.Set(s.cfg.CacheKey, projects)
		slog.Info("Cache refreshed", "key", s.cfg.CacheKey, "projects", len(projects), "attempt", attempt)
		return nil
	}

	notify := func(err error, next time.Duration) {
		s.cache.Extend(s.cfg.CacheKey)
		slog.Warn("Refresh attempt failed, retrying", "key", s.cfg.CacheKey, "attempt", attempt, "retry_in", next, "err", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(s.cfg.RetryDelay),
			uint64(s.cfg.MaxAttempts-1),
		),
		ctx,
	)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		s.cache.Extend(s.cfg.CacheKey)
		slog.Error("Refresh exhausted all attempts", "key", s.cfg.CacheKey, "attempts", attempt, "err", err)
		return fmt.Errorf("refresh %q: %w", s.cfg.CacheKey, err)
	}
	return nil
}
