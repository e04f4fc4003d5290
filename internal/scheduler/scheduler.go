// Package scheduler runs jobs on a fixed day of every month, at a wall-clock
// time in one named timezone. Runs missed while the process is down are not
// caught up.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled action. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	names   map[cron.EntryID]string
	running bool
}

func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	adapter := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		loc:    loc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		names:  map[cron.EntryID]string{},
	}
}

// MonthlySpec builds the five-field cron expression for day at hour:minute.
func MonthlySpec(day, hour, minute int) (string, error) {
	if day < 1 || day > 28 {
		return "", fmt.Errorf("day %d out of range 1..28", day)
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour %d out of range 0..23", hour)
	}
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("minute %d out of range 0..59", minute)
	}
	return fmt.Sprintf("%d %d %d * *", minute, hour, day), nil
}

// AddMonthly registers job to run on day of every month at hour:minute.
func (s *Scheduler) AddMonthly(name string, day, hour, minute int, job Job) error {
	spec, err := MonthlySpec(day, hour, minute)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Info("Scheduled job started", "job", name)
		job(s.context())
		s.logger.Info("Scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()

	s.logger.Info("Job scheduled", "job", name, "spec", spec, "timezone", s.loc.String())
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// NextRun returns the next activation of the named job after t, regardless of
// whether the scheduler is running.
func (s *Scheduler) NextRun(name string, t time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.cron.Entries() {
		if s.names[e.ID] == name {
			return e.Schedule.Next(t.In(s.loc)), true
		}
	}
	return time.Time{}, false
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.names), "timezone", s.loc.String())
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
