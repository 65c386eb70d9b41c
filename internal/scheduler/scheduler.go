// Package scheduler triggers the digest pipeline on a cron schedule.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"arxivd/config"
)

// Runner is the pipeline entry point invoked at each trigger.
type Runner interface {
	Run(ctx context.Context, runDate string) error
}

// Scheduler sleeps until the next cron trigger in the configured
// timezone and runs the pipeline with that day's run date.
type Scheduler struct {
	expr   *cronexpr.Expression
	loc    *time.Location
	runner Runner
	logger *log.Logger
	stop   chan struct{}
}

// New parses the configured cron expression and timezone.
func New(cfg config.ScheduleConfig, runner Runner, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(cfg.Cron)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:   expr,
		loc:    cfg.Location(),
		runner: runner,
		logger: logger,
		stop:   make(chan struct{}),
	}, nil
}

// Start blocks, firing the runner at each cron trigger until Stop is
// called or the context is cancelled. A failed run is logged and the
// loop keeps going.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Printf("scheduler started, next run at %s", s.next().Format(time.RFC3339))
	for {
		next := s.next()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		runDate := time.Now().In(s.loc).Format("2006-01-02")
		s.logger.Printf("triggering run for %s", runDate)
		if err := s.runner.Run(ctx, runDate); err != nil {
			s.logger.Printf("scheduled run %s failed: %v", runDate, err)
		}
	}
}

// Stop ends the Start loop. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) next() time.Time {
	return s.expr.Next(time.Now().In(s.loc))
}
