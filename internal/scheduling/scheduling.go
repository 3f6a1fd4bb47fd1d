// Package scheduling runs periodic maintenance work on a fixed interval,
// as distinct from the on-demand background ingestion jobs queued by
// POST /ingest/lecture and /ingest/web (ingestion.Job, the AiBackgroundTask
// side of the upstream system's "Task" ambiguity resolved here as two
// disjoint types: a queued, one-shot AI job vs. a recurring maintenance
// ScheduledTask). A ScheduledTask has no request/response shape of its own
// and is never exposed over HTTP; it runs for as long as the process is
// alive.
package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ScheduledTask is a named unit of recurring maintenance work, run on a
// fixed Interval until its context is canceled. Run errors are logged and
// swallowed so one bad tick never stops the ones that follow.
type ScheduledTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of ScheduledTasks, each on its own ticker
// goroutine, mirroring the teacher's cleanupLoop idiom (a single ticker
// driving a single maintenance routine) generalized to a registered set.
type Scheduler struct {
	tasks []ScheduledTask
	log   zerolog.Logger
}

func New(log zerolog.Logger, tasks ...ScheduledTask) *Scheduler {
	return &Scheduler{tasks: tasks, log: log}
}

// Start launches one ticker goroutine per registered task and returns
// immediately; tasks stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		go s.runLoop(ctx, task)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, task ScheduledTask) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	log := s.log.With().Str("task", task.Name).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task.Run(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled task failed")
				continue
			}
			log.Debug().Msg("scheduled task completed")
		}
	}
}
