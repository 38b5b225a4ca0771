// Package sched drives the pipeline on fixed cadences: portfolio sync,
// execution cycles, and a nightly learning-context optimization.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

// Config carries the cadences.
type Config struct {
	AccountID       string
	SyncInterval    time.Duration
	ExecuteInterval time.Duration
	// OptimizeHour is the local hour at which the nightly optimization runs.
	OptimizeHour int
}

// Scheduler ticks the pipeline. Run blocks until ctx is cancelled; in-flight
// work finishes before Run returns.
type Scheduler struct {
	pipeline  interfaces.Pipeline
	optimizer interfaces.Optimizer
	cfg       Config
	now       func() time.Time

	mu            sync.Mutex
	lastOptimized time.Time
}

// New builds a scheduler.
func New(pipeline interfaces.Pipeline, optimizer interfaces.Optimizer, cfg Config) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.ExecuteInterval <= 0 {
		cfg.ExecuteInterval = 15 * time.Minute
	}
	return &Scheduler{pipeline: pipeline, optimizer: optimizer, cfg: cfg, now: time.Now}
}

// Run loops until ctx is done. Each tick starts at most one cycle; the
// engine's per-account lock skips a tick whose predecessor still runs.
func (s *Scheduler) Run(ctx context.Context) {
	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	execTicker := time.NewTicker(s.cfg.ExecuteInterval)
	defer execTicker.Stop()
	// The optimize check is cheap; a minute granularity finds the hour.
	optTicker := time.NewTicker(time.Minute)
	defer optTicker.Stop()

	logger.Info(ctx, "Scheduler started",
		"account", s.cfg.AccountID,
		"sync_interval", s.cfg.SyncInterval,
		"execute_interval", s.cfg.ExecuteInterval,
		"optimize_hour", s.cfg.OptimizeHour)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			// No new cycles start; in-flight ones drain here.
			wg.Wait()
			logger.Info(context.WithoutCancel(ctx), "Scheduler stopped")
			return

		case <-syncTicker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.pipeline.SyncPortfolio(ctx, s.cfg.AccountID); err != nil {
					logger.ErrorWithErr(ctx, "Scheduled portfolio sync failed", err, "account", s.cfg.AccountID)
				}
			}()

		case <-execTicker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.pipeline.RunCycle(ctx, s.cfg.AccountID); err != nil {
					logger.ErrorWithErr(ctx, "Scheduled execution cycle failed", err, "account", s.cfg.AccountID)
				}
			}()

		case <-optTicker.C:
			if !s.optimizeDue() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runOptimize(ctx)
			}()
		}
	}
}

// optimizeDue reports whether the nightly optimization should run now: we
// are inside the configured hour and have not run today.
func (s *Scheduler) optimizeDue() bool {
	now := s.now()
	if now.Hour() != s.cfg.OptimizeHour {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A marker past now means optimization was halted on an invariant
	// violation and stays off until an operator intervenes.
	if s.lastOptimized.After(now) {
		return false
	}
	y1, m1, d1 := s.lastOptimized.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return false
	}
	s.lastOptimized = now
	return true
}

func (s *Scheduler) runOptimize(ctx context.Context) {
	lc, err := s.optimizer.Optimize(ctx, s.now())
	if err != nil {
		var inv *types.InvariantViolationError
		if errors.As(err, &inv) {
			// Fatal for scheduled optimization: stop rescheduling until an
			// operator repairs the context table.
			logger.Error(ctx, "Optimization halted on invariant violation",
				"invariant", inv.Invariant, "detail", inv.Detail)
			s.mu.Lock()
			s.lastOptimized = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
			s.mu.Unlock()
			return
		}
		logger.ErrorWithErr(ctx, "Scheduled optimization failed", err)
		return
	}
	logger.Info(ctx, "Nightly optimization complete", "version", lc.Version)
}
