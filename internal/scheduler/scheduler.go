// Package scheduler runs the dispatch job that forwards matching posts to
// subscribers, on a cron schedule or on demand.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the dispatch job every ten minutes.
const DefaultSchedule = "*/10 * * * *"

// Scheduler triggers a Job on a cron schedule.
type Scheduler struct {
	job  *Job
	spec string
	log  *slog.Logger
}

// New creates a Scheduler for job using a standard five-field cron spec or
// a descriptor such as "@every 5m".
func New(job *Job, spec string, log *slog.Logger) *Scheduler {
	return &Scheduler{
		job:  job,
		spec: spec,
		log:  log,
	}
}

// Run performs one pass immediately, then runs the job on schedule until ctx
// is cancelled. Ticks that fire while a pass is still running are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.spec, err)
	}

	s.tick(ctx)

	c.Start()
	s.log.Info("dispatch scheduled", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep := s.job.Run(ctx)
	s.log.Debug("dispatch finished", "report", rep.String())
}
