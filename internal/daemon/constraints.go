package daemon

import (
	"log/slog"

	"git.home.luguber.info/inful/modset/internal/config"
	"git.home.luguber.info/inful/modset/internal/graph"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/registry"
)

// plainStep is a configured step with no resource activity.
type plainStep struct {
	name string
}

func (s plainStep) StepName() string { return s.name }

// resourceStep is a configured step declaring a resource activity.
type resourceStep struct {
	name     string
	resource graph.Resource
}

func (s resourceStep) StepName() string { return s.name }

func (s resourceStep) ResourceActivity() graph.Resource { return s.resource }

// buildConstraints derives the set's resource constraints from the
// configured steps. Tasks cover every registered module plus the set's
// own aggregate task.
func buildConstraints(cfg *config.Config, reg *registry.Registry, observer graph.SkipObserver) *graph.ConstraintSet {
	tasks := make([]graph.TaskID, 0, reg.Len()+1)
	tasks = append(tasks, graph.TaskID(reg.SetName()))
	for _, m := range reg.Modules() {
		tasks = append(tasks, graph.TaskID(m.Name().String()))
	}

	steps := make([]graph.BuildStep, 0, len(cfg.ModuleSet.Steps))
	for _, s := range cfg.ModuleSet.Steps {
		if s.Resource != "" || s.Exclusive {
			steps = append(steps, resourceStep{
				name:     s.Name,
				resource: graph.Resource{Name: s.Resource, Exclusive: s.Exclusive},
			})
		} else {
			steps = append(steps, plainStep{name: s.Name})
		}
	}

	return graph.NewBuilder(observer).Build(tasks, steps)
}

// hasExclusiveResource reports whether any constraint demands mutual
// exclusion across the set's tasks.
func hasExclusiveResource(cs *graph.ConstraintSet) bool {
	for _, r := range cs.Resources() {
		if r.Exclusive {
			return true
		}
	}
	return false
}

// effectiveWorkers clamps the worker count to one when an exclusive
// resource constraint forbids concurrent builds.
func effectiveWorkers(cfg *config.Config, cs *graph.ConstraintSet) int {
	workers := cfg.Daemon.Workers
	if workers > 1 && hasExclusiveResource(cs) {
		slog.Warn("Exclusive resource constraint forces sequential builds",
			logfields.Count(cs.Len()),
			slog.Int("configured_workers", workers))
		return 1
	}
	return workers
}
