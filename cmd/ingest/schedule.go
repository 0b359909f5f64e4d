package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// job is one named unit of scheduled work.
type job struct {
	name string
	run  func(ctx context.Context) error
}

// scheduler fires jobs on five-field cron expressions. A firing that finds
// the previous one of the same job still running is skipped.
type scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

func newScheduler(ctx context.Context, logger *slog.Logger) *scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		ctx:    ctx,
		logger: logger,
	}
}

func (s *scheduler) add(j job, spec string) error {
	if _, err := s.cron.AddFunc(spec, s.wrap(j)); err != nil {
		return fmt.Errorf("schedule %s %q: %w", j.name, spec, err)
	}
	s.logger.Info("job scheduled", "job", j.name, "spec", spec)
	return nil
}

func (s *scheduler) wrap(j job) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.Info("job skipped: still running", "job", j.name)
			return
		}
		defer running.Store(false)
		if err := j.run(s.ctx); err != nil {
			s.logger.Error("job failed", "job", j.name, "err", err)
		}
	}
}

func (s *scheduler) start() { s.cron.Start() }

// stop waits for running jobs to return.
func (s *scheduler) stop() { <-s.cron.Stop().Done() }
