// Package scheduler runs gatherers on cron schedules inside the server
// process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"zhunleme/internal/gather"
)

// Scheduler runs registered gatherers on their cron specs. A run that is
// still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New creates a Scheduler. Jobs receive ctx and stop when it is cancelled.
// Specs use the standard five-field cron format in Asia/Shanghai time.
func New(ctx context.Context, log *slog.Logger) *Scheduler {
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.FixedZone("CST", 8*3600)),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: ctx,
		log: log,
	}
}

// Register schedules g on spec.
func (s *Scheduler) Register(spec string, g gather.Gatherer) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(g) }); err != nil {
		return fmt.Errorf("register %s on %q: %w", g.Name(), spec, err)
	}
	s.log.Info("job registered", "gatherer", g.Name(), "spec", spec)
	return nil
}

// RunNow runs g once in the calling goroutine.
func (s *Scheduler) RunNow(g gather.Gatherer) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.log.Info("job started", "gatherer", g.Name())
	if err := g.Run(s.ctx); err != nil {
		s.log.Error("job failed", "gatherer", g.Name(), "error", err, "elapsed", time.Since(start))
		return
	}
	s.log.Info("job finished", "gatherer", g.Name(), "elapsed", time.Since(start))
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start starts the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", s.Len())
}

// Stop stops scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
