// Package worker runs the background jobs of the serve command.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	applog "fintrack/internal/log"
)

// Runner posts due recurring templates for every live session.
type Runner interface {
	RunDueAll(ctx context.Context) (int, error)
}

// SchedulerConfig holds configuration for the recurring scheduler
type SchedulerConfig struct {
	// Interval is how often due templates are checked (default: 1h)
	Interval time.Duration

	// RunOnStart runs one pass before the first tick
	RunOnStart bool
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Hour,
		RunOnStart: false,
	}
}

// RecurringScheduler periodically materializes due recurring templates.
// Sessions already post on load and on template changes; the scheduler
// covers month rollovers while a session stays open.
type RecurringScheduler struct {
	runner Runner
	config SchedulerConfig
	logger *slog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	runs   int
	posted int
}

func NewRecurringScheduler(runner Runner, config SchedulerConfig, logger *slog.Logger) *RecurringScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecurringScheduler{
		runner: runner,
		config: config,
		logger: logger.With(applog.FieldComponent, applog.ComponentRecurring),
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *RecurringScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("recurring scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Recurring scheduler started", "interval", s.config.Interval)
	return nil
}

// Stop gracefully stops the scheduler and waits for the current pass.
func (s *RecurringScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Recurring scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Recurring scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *RecurringScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns the number of passes made and transactions posted.
func (s *RecurringScheduler) Stats() (runs, posted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.posted
}

func (s *RecurringScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.RunOnce(ctx)
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce makes a single pass over the live sessions. A failing account
// does not stop the others.
func (s *RecurringScheduler) RunOnce(ctx context.Context) int {
	posted, err := s.runner.RunDueAll(ctx)

	s.mu.Lock()
	s.runs++
	s.posted += posted
	s.mu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "Recurring run finished with errors",
			applog.FieldCount, posted,
			applog.FieldOperation, applog.OpMaterialize,
			applog.FieldError, err)
		return posted
	}
	if posted > 0 {
		s.logger.InfoContext(ctx, "Recurring templates posted",
			applog.FieldCount, posted,
			applog.FieldOperation, applog.OpMaterialize)
	}
	return posted
}
