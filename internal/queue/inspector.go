// Package queue holds the module set's build job queue and the inspector
// that filters a host-provided queue snapshot down to this set's tasks.
package queue

import (
	"time"

	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// Task is the unit a host queue schedules.
type Task interface {
	TaskName() string
}

// ModuleTask is implemented by tasks that build one module of a set.
type ModuleTask interface {
	Task
	TaskModule() modname.ModuleName
	TaskSet() string
}

// AggregateTask is implemented by a module set's own combined build task.
type AggregateTask interface {
	Task
	TaskSet() string
}

// Item is one pending entry in the host queue snapshot.
type Item struct {
	ID         string
	Task       Task
	EnqueuedAt time.Time
}

// Inspector filters queue snapshots for one module set.
type Inspector struct {
	reg *registry.Registry
}

// NewInspector creates an Inspector bound to the set's registry.
func NewInspector(reg *registry.Registry) *Inspector {
	return &Inspector{reg: reg}
}

// ItemsForSet returns the entries whose task is either a module currently
// belonging to this registry or the set's own aggregate task. The snapshot
// is not mutated and input order is preserved.
func (i *Inspector) ItemsForSet(snapshot []Item) []Item {
	var out []Item
	for _, item := range snapshot {
		switch t := item.Task.(type) {
		case ModuleTask:
			if t.TaskSet() == i.reg.SetName() && i.reg.Has(t.TaskModule()) {
				out = append(out, item)
			}
		case AggregateTask:
			if t.TaskSet() == i.reg.SetName() {
				out = append(out, item)
			}
		}
	}
	return out
}

// moduleJobTask adapts a queued single-module job to the task surface.
type moduleJobTask struct {
	set    string
	module modname.ModuleName
}

func (t moduleJobTask) TaskName() string               { return t.module.String() }
func (t moduleJobTask) TaskModule() modname.ModuleName { return t.module }
func (t moduleJobTask) TaskSet() string                { return t.set }

// setJobTask adapts a queued whole-set job (aggregate or incremental).
type setJobTask struct {
	set string
}

func (t setJobTask) TaskName() string { return t.set }
func (t setJobTask) TaskSet() string  { return t.set }

// JobItems converts queued build jobs into snapshot items so they can be
// filtered by an Inspector alongside entries from other sets.
func JobItems(setName string, jobs []*BuildJob) []Item {
	items := make([]Item, 0, len(jobs))
	for _, job := range jobs {
		var task Task
		if mt, ok := job.Trigger.(scope.ModuleTrigger); ok {
			task = moduleJobTask{set: setName, module: mt.Module}
		} else {
			task = setJobTask{set: setName}
		}
		items = append(items, Item{ID: job.ID, Task: task, EnqueuedAt: job.CreatedAt})
	}
	return items
}
