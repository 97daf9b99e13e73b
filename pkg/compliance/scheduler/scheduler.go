package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"veridian-hq/warden/pkg/compliance"
	"veridian-hq/warden/pkg/policy"
)

// PolicyLoader supplies the current active policy set at each tick, so policy
// file changes picked up between runs take effect without a restart.
type PolicyLoader interface {
	LoadActive() ([]*policy.Policy, error)
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is a standard five-field cron expression, e.g. "*/5 * * * *"
	// for every five minutes. Empty disables the scheduler.
	Schedule string

	// BatchLimit bounds the number of events evaluated per tick.
	// Defaults to 100.
	BatchLimit int
}

// Scheduler drives periodic batch evaluation.
type Scheduler struct {
	engine   *compliance.Engine
	policies PolicyLoader
	cfg      Config
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler around the evaluation engine.
func New(engine *compliance.Engine, policies PolicyLoader, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Scheduler{
		engine:   engine,
		policies: policies,
		cfg:      cfg,
		cron:     cron.New(),
		logger:   logger.With("component", "evaluation_scheduler"),
	}
}

// Start begins scheduled evaluation. An empty schedule is a no-op, not an
// error. The scheduler stops itself when the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Schedule == "" {
		s.logger.Info("evaluation schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.cfg.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runBatch(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule evaluation: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("evaluation scheduler started",
		"schedule", s.cfg.Schedule,
		"batch_limit", s.cfg.BatchLimit,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runBatch executes one evaluation cycle.
func (s *Scheduler) runBatch(ctx context.Context) {
	policies, err := s.policies.LoadActive()
	if err != nil {
		s.logger.Error("policy load failed, skipping batch", "error", err)
		return
	}
	if len(policies) == 0 {
		s.logger.Debug("no active policies, skipping batch")
		return
	}

	batch, err := s.engine.EvaluateUnprocessed(ctx, policies, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("scheduled evaluation failed", "error", err)
		return
	}

	violations := 0
	for _, r := range batch.Results {
		violations += len(r.Violations)
	}
	s.logger.Info("scheduled evaluation completed",
		"results", len(batch.Results),
		"violations", violations,
		"errors", len(batch.Errors),
	)
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("evaluation scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled evaluation time, if any.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
