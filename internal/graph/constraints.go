package graph

import (
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
)

// Resource names an exclusive or shared resource a build step touches while
// it runs. Constraints derived from resources let the external scheduler
// serialize or exclude concurrent tasks contending on the same resource.
type Resource struct {
	Name      string
	Exclusive bool
}

// ResourceActivity is the optional capability a build step exposes when it
// touches a named resource. The builder queries all configured steps
// uniformly regardless of their concrete variant.
type ResourceActivity interface {
	ResourceActivity() Resource
}

// BuildStep is any publisher or build wrapper configured on the module set.
type BuildStep interface {
	StepName() string
}

// TaskID identifies a schedulable build task: the canonical string form of
// a module name, or the module set's own aggregate task id.
type TaskID string

// ConstraintSet is the deterministic set of resource constraints produced
// for a module set's tasks. It is a set: insertion order does not affect
// equality or iteration output.
type ConstraintSet struct {
	byResource map[Resource]map[TaskID]struct{}
	skipped    []error
}

// Resources returns the constrained resources sorted by name.
func (c *ConstraintSet) Resources() []Resource {
	out := make([]Resource, 0, len(c.byResource))
	for r := range c.byResource {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Exclusive && !out[j].Exclusive
	})
	return out
}

// TasksFor returns the sorted tasks constrained by the resource.
func (c *ConstraintSet) TasksFor(r Resource) []TaskID {
	tasks := c.byResource[r]
	out := make([]TaskID, 0, len(tasks))
	for t := range tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of distinct constrained resources.
func (c *ConstraintSet) Len() int { return len(c.byResource) }

// SkippedContributions reports how many malformed resource declarations
// (empty resource name) were skipped while building the set.
func (c *ConstraintSet) SkippedContributions() int { return len(c.skipped) }

// SkippedDeclarations returns one *errors.MalformedResourceDeclaration per
// skipped contribution, in encounter order.
func (c *ConstraintSet) SkippedDeclarations() []error {
	out := make([]error, len(c.skipped))
	copy(out, c.skipped)
	return out
}

// SkipObserver is notified when a malformed resource declaration is skipped.
// Satisfied by the metrics recorder.
type SkipObserver interface {
	IncSkippedResourceDeclarations()
}

// Builder derives the constraint set for a module set's tasks from its
// configured publishers and build wrappers.
type Builder struct {
	observer SkipObserver
}

// NewBuilder creates a Builder. observer may be nil.
func NewBuilder(observer SkipObserver) *Builder {
	return &Builder{observer: observer}
}

// Build queries every step for a resource activity and binds each declared
// resource to all of the given tasks. Steps without the capability
// contribute nothing. A declaration with an empty resource name is skipped
// and counted, never fatal: contributing no constraint is the safe default.
func (b *Builder) Build(tasks []TaskID, stepLists ...[]BuildStep) *ConstraintSet {
	cs := &ConstraintSet{byResource: make(map[Resource]map[TaskID]struct{})}

	for _, steps := range stepLists {
		for _, step := range steps {
			ra, ok := step.(ResourceActivity)
			if !ok {
				continue
			}
			res := ra.ResourceActivity()
			if res.Name == "" {
				skipErr := &errors.MalformedResourceDeclaration{Step: step.StepName()}
				cs.skipped = append(cs.skipped, skipErr)
				if b.observer != nil {
					b.observer.IncSkippedResourceDeclarations()
				}
				slog.Debug("Skipping malformed resource declaration",
					logfields.Error(skipErr))
				continue
			}
			bucket, ok := cs.byResource[res]
			if !ok {
				bucket = make(map[TaskID]struct{}, len(tasks))
				cs.byResource[res] = bucket
			}
			for _, t := range tasks {
				bucket[t] = struct{}{}
			}
		}
	}

	if len(cs.skipped) > 0 {
		slog.Warn("Skipped malformed resource declarations",
			logfields.Count(len(cs.skipped)))
	}
	return cs
}
