package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(job *queue.BuildJob) error
}

// Scheduler wraps gocron for periodic build triggers.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueuer  Enqueuer
}

// NewScheduler creates a scheduler that feeds the given queue.
func NewScheduler(enqueuer Enqueuer) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, enqueuer: enqueuer}, nil
}

// Start begins firing scheduled triggers.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// TriggersFunc produces the triggers for a firing schedule, evaluated at
// fire time so they reflect the current repository and registry state.
// Aggregate and incremental sets yield a single trigger; a per-module set
// yields one trigger per active module.
type TriggersFunc func() []scope.Trigger

// StaticTriggers adapts fixed triggers to a TriggersFunc.
func StaticTriggers(triggers ...scope.Trigger) TriggersFunc {
	return func() []scope.Trigger { return triggers }
}

// ScheduleCron registers a periodic trigger from a standard five-field
// cron expression. Returns the schedule ID for later management.
func (s *Scheduler) ScheduleCron(expr string, triggersFn TriggersFunc, buildType queue.BuildType) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(s.fire, triggersFn, buildType),
		gocron.WithName(fmt.Sprintf("%s-build", buildType)),
	)
	if err != nil {
		return "", fmt.Errorf("create cron job %q: %w", expr, err)
	}
	slog.Info("Scheduled periodic build",
		logfields.ScheduleID(job.ID().String()),
		slog.String("cron", expr))
	return job.ID().String(), nil
}

// ScheduleEvery registers a fixed-interval trigger.
func (s *Scheduler) ScheduleEvery(interval time.Duration, triggersFn TriggersFunc, buildType queue.BuildType) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.fire, triggersFn, buildType),
		gocron.WithName(fmt.Sprintf("%s-build", buildType)),
	)
	if err != nil {
		return "", fmt.Errorf("create interval job: %w", err)
	}
	return job.ID().String(), nil
}

// fire is invoked by gocron when a schedule is due.
func (s *Scheduler) fire(triggersFn TriggersFunc, buildType queue.BuildType) {
	for _, trigger := range triggersFn() {
		job := &queue.BuildJob{
			ID:        uuid.NewString(),
			Type:      buildType,
			Trigger:   trigger,
			CreatedAt: time.Now(),
		}
		if err := s.enqueuer.Enqueue(job); err != nil {
			slog.Error("Failed to enqueue scheduled build",
				logfields.JobID(job.ID),
				logfields.Error(err))
		}
	}
}
