// Package scheduler drives the periodic jobs: catalog syncs, document
// lifecycle batches, source polling, and signal computation.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of periodic work
type Job interface {
	Name() string
	Run() error
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins dispatching scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop cancels future ticks and waits for in-flight jobs to complete
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 */5 * * * *"   - every 5 minutes
//   - "@hourly"         - every hour
//   - "@every 30s"      - every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// Kickoff runs a job once in the background, outside its schedule. Used at
// startup so sync state is fresh before the first tick.
func (s *Scheduler) Kickoff(job Job) {
	go func() {
		s.log.Info().Str("job", job.Name()).Msg("Running startup kickoff")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Startup kickoff failed")
		}
	}()
}

// Func adapts a closure to the Job interface
type Func struct {
	JobName string
	Fn      func() error
}

func (f Func) Name() string { return f.JobName }
func (f Func) Run() error   { return f.Fn() }
