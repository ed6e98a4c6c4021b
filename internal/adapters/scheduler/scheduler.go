// Package scheduler fires periodic sync cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

var parser = config.ScheduleParser

// SyncRunner runs one sync cycle. *app.SyncService satisfies it.
type SyncRunner interface {
	RunSyncCycle(ctx context.Context, trigger app.Trigger) app.SyncResult
}

// Scheduler triggers periodic sync cycles. Cycles that find the store busy
// are skipped by the runner, so ticks never pile up.
type Scheduler struct {
	runner   SyncRunner
	schedule cron.Schedule
	expr     string
	logger   *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	runOnStart bool
	initial    sync.WaitGroup

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// ValidateSchedule reports whether expr is a schedule New accepts.
func ValidateSchedule(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart makes Start run one manual cycle right away instead of
// waiting for the first tick.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

// New creates a stopped scheduler for expr.
func New(expr string, runner SyncRunner, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", expr, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		expr:     expr,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start registers the periodic job and starts the cron loop. Each run derives
// its context from ctx, and cancelling ctx stops the scheduler. With
// WithRunOnStart one manual cycle also runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		s.runner.RunSyncCycle(runCtx, app.TriggerPeriodic)
	}))

	s.cron.Start()
	s.running = true

	if s.runOnStart {
		s.initial.Add(1)

		go func() {
			defer s.initial.Done()
			s.runner.RunSyncCycle(runCtx, app.TriggerManual)
		}()
	}

	s.logger.InfoContext(ctx, "sync scheduler started",
		slog.String("schedule", s.expr),
		slog.Time("next_run", s.schedule.Next(time.Now())),
	)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop removes the job and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cron.Remove(s.entryID)
	<-s.cron.Stop().Done()

	s.cancel()
	s.initial.Wait()
	s.running = false

	s.logger.Info("sync scheduler stopped")
}

// RunNow runs a manual cycle immediately, waiting for any cycle in flight.
func (s *Scheduler) RunNow(ctx context.Context) app.SyncResult {
	return s.runner.RunSyncCycle(ctx, app.TriggerManual)
}

// IsRunning reports whether periodic cycles are being scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.running
}

// NextRun returns when the next periodic cycle fires. ok is false while stopped.
func (s *Scheduler) NextRun() (next time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return time.Time{}, false
	}

	entry := s.cron.Entry(s.entryID)
	if !entry.Valid() {
		return time.Time{}, false
	}

	return entry.Next, true
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
