// Package scheduler fires the daily generation run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/stable-scheduler/internal/logging"
)

const (
	// DefaultSpec fires once a day at 02:00.
	DefaultSpec = "0 2 * * *"
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 9 * time.Minute
	// DefaultBackoff is the delay before the first retry. It doubles per retry.
	DefaultBackoff = 30 * time.Second
	// MaxBackoff caps the retry delay.
	MaxBackoff = 10 * time.Minute
)

// ErrNoTask is returned when a scheduler is built without a task.
var ErrNoTask = errors.New("scheduler: task is required")

// Task is the unit of work the scheduler triggers.
type Task func(ctx context.Context) error

// Options tunes a Scheduler.
type Options struct {
	// Spec is a standard five field cron expression.
	Spec     string
	Location *time.Location
	// Timeout bounds each attempt. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one.
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
	// Sleep waits between attempts. Nil sleeps on a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler runs a Task on a cron schedule in a fixed location. A trigger
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	task     Task
	schedule cron.Schedule
	location *time.Location
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	baseCtx context.Context
}

// New validates the options and prepares the cron runner.
func New(task Task, opts Options) (*Scheduler, error) {
	if task == nil {
		return nil, ErrNoTask
	}
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	logger := logging.Default(opts.Logger)

	schedule, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse spec %q: %w", opts.Spec, err)
	}

	s := &Scheduler{
		task:     task,
		schedule: schedule,
		location: opts.Location,
		timeout:  opts.Timeout,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		sleep:    opts.Sleep,
		logger:   logger,
		baseCtx:  context.Background(),
	}

	cronLogger := cronLogger{logger: logger.With("component", "Scheduler")}
	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	return s, nil
}

// Start begins firing the task. Runs inherit ctx values and stop retrying once
// ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", "next_run", s.NextAfter(time.Now()))
}

// Stop prevents new runs and waits for a running one to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextAfter returns the first trigger time strictly after t, in the
// scheduler's location.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed", "error", err)
	}
}

// RunOnce runs the task now. Each attempt gets its own timeout; a failed
// attempt is retried up to Retries times with doubling backoff.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	logger := logging.Component(ctx, s.logger, "Scheduler", "RunOnce")

	delay := s.backoff
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			logger.WarnContext(ctx, "retrying run", "attempt", attempt+1, "delay", delay, "error", err)
			if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
				return fmt.Errorf("scheduler: retry aborted: %w", errors.Join(err, sleepErr))
			}
			delay = min(delay*2, MaxBackoff)
		}

		err = s.attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("scheduler: run failed after %d attempts: %w", s.retries+1, err)
}

func (s *Scheduler) attempt(ctx context.Context) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: task panicked: %v", p)
		}
	}()
	return s.task(attemptCtx)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
