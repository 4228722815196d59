package tasks

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/motorctl/logging"
)

// Scheduler runs fixed period jobs. A job that overruns its period is rescheduled rather than
// run concurrently with itself.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      map[string]uuid.UUID
}

// NewScheduler returns a scheduler with no jobs. Jobs run once Start is called.
func NewScheduler(logger logging.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: scheduler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      map[string]uuid.UUID{},
	}, nil
}

// Add schedules fn every spec.Period. The context passed to fn ends at Shutdown.
func (s *Scheduler) Add(spec Spec, fn func(ctx context.Context)) error {
	if spec.Period <= 0 {
		return errors.Errorf("task %q has no period", spec.Name)
	}
	if _, ok := s.jobs[spec.Name]; ok {
		return errors.Errorf("task %q already scheduled", spec.Name)
	}
	j, err := s.scheduler.NewJob(
		gocron.DurationJob(spec.Period),
		gocron.NewTask(func() {
			fn(s.ctx)
		}),
		gocron.WithName(spec.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrapf(err, "cannot schedule task %q", spec.Name)
	}
	s.jobs[spec.Name] = j.ID()
	s.logger.Debugw("scheduled task", "name", spec.Name, "period", spec.Period, "id", j.ID())
	return nil
}

// Remove unschedules the named job. A running invocation is allowed to finish.
func (s *Scheduler) Remove(name string) error {
	id, ok := s.jobs[name]
	if !ok {
		return errors.Errorf("task %q is not scheduled", name)
	}
	delete(s.jobs, name)
	return s.scheduler.RemoveJob(id)
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.scheduler.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops every job and waits for running ones to finish.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	s.logger.Info("shutting down scheduler")
	return s.scheduler.Shutdown()
}
