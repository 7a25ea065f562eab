package daemon

import (
	"log/slog"

	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// dedupEnqueuer sits between the scheduler and the queue and drops a job
// when an equivalent one is already waiting: a second aggregate job adds
// nothing, and a per-module job for a module that is already queued would
// just build it twice. Incremental jobs are never deduplicated because
// each carries its own change set.
type dedupEnqueuer struct {
	q         *queue.Queue
	inspector *queue.Inspector
	setName   string
}

func newDedupEnqueuer(q *queue.Queue, reg *registry.Registry) *dedupEnqueuer {
	return &dedupEnqueuer{
		q:         q,
		inspector: queue.NewInspector(reg),
		setName:   reg.SetName(),
	}
}

// Enqueue forwards the job unless an equivalent pending job exists.
// Dropping a duplicate is not an error.
func (e *dedupEnqueuer) Enqueue(job *queue.BuildJob) error {
	if e.hasPendingEquivalent(job) {
		slog.Debug("Dropping duplicate build job",
			logfields.JobID(job.ID),
			logfields.Trigger(job.Trigger.Kind()))
		return nil
	}
	return e.q.Enqueue(job)
}

func (e *dedupEnqueuer) hasPendingEquivalent(job *queue.BuildJob) bool {
	var (
		wantModule scope.ModuleTrigger
		isModule   bool
	)
	switch t := job.Trigger.(type) {
	case scope.ModuleTrigger:
		wantModule, isModule = t, true
	case scope.AggregateTrigger:
	default:
		return false
	}

	pending := e.q.PendingJobs()
	byID := make(map[string]*queue.BuildJob, len(pending))
	for _, p := range pending {
		byID[p.ID] = p
	}

	for _, item := range e.inspector.ItemsForSet(queue.JobItems(e.setName, pending)) {
		other, ok := byID[item.ID]
		if !ok {
			continue
		}
		if isModule {
			if mt, ok := item.Task.(queue.ModuleTask); ok && mt.TaskModule() == wantModule.Module {
				return true
			}
			continue
		}
		if _, ok := other.Trigger.(scope.AggregateTrigger); ok {
			return true
		}
	}
	return false
}
