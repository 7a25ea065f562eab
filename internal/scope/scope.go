// Package scope computes which modules participate in a build cycle for a
// given trigger, honoring the module set's aggregate, per-module, and
// incremental policies.
package scope

import (
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
)

// Strategy selects between one combined invocation for the whole set and
// independently scheduled per-module builds.
type Strategy string

const (
	StrategyAggregate Strategy = "aggregate"
	StrategyPerModule Strategy = "per-module"
)

// Valid reports whether the strategy is one of the known values.
func (s Strategy) Valid() bool {
	return s == StrategyAggregate || s == StrategyPerModule
}

// Result is the completed outcome of a module's most recent build, as
// reported by the build-history collaborator.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultUnstable Result = "unstable"
	ResultFailure  Result = "failure"
	ResultAborted  Result = "aborted"
	ResultNotBuilt Result = "not_built"
)

// NeedsRebuild reports whether the result marks the module for inclusion in
// the next incremental cycle. Unstable counts the same as failure; aborted
// and never-built modules wait for a change.
func (r Result) NeedsRebuild() bool {
	return r == ResultFailure || r == ResultUnstable
}

// History is the build-history collaborator boundary. LastResult returns
// the most recent completed result for the module, looking past cycles in
// which the module was skipped; ResultNotBuilt when it has never completed
// a build.
type History interface {
	LastResult(modname.ModuleName) Result
}

// Trigger is a build trigger event from the external scheduler.
type Trigger interface {
	// Kind returns a stable label for logging and metrics.
	Kind() string
}

// AggregateTrigger requests one combined build of the whole set.
type AggregateTrigger struct{}

func (AggregateTrigger) Kind() string { return "aggregate" }

// ModuleTrigger requests a build of a single module.
type ModuleTrigger struct {
	Module modname.ModuleName
}

func (ModuleTrigger) Kind() string { return "module" }

// IncrementalTrigger carries the change set detected since the previous
// cycle.
type IncrementalTrigger struct {
	Changed []modname.ModuleName
}

func (IncrementalTrigger) Kind() string { return "incremental" }

// Scope is the ephemeral per-trigger selection. An empty Modules slice is a
// valid "nothing to do" outcome: the caller skips the cycle entirely.
type Scope struct {
	// Modules to build this cycle, in dependency-respecting order.
	Modules []*registry.Module

	// Aggregate is true when the scope is to be built as one combined
	// invocation rather than per-module tasks.
	Aggregate bool

	// Changed is the originating change set (incremental only), filtered
	// to registered modules.
	Changed []modname.ModuleName

	// Dependents is the transitive-dependent closure added on top of the
	// directly selected modules (incremental only).
	Dependents []modname.ModuleName
}

// Empty reports the nothing-to-do outcome.
func (s Scope) Empty() bool { return len(s.Modules) == 0 }

// Names returns the canonical names of the selected modules, in order.
func (s Scope) Names() []modname.ModuleName {
	out := make([]modname.ModuleName, len(s.Modules))
	for i, m := range s.Modules {
		out[i] = m.Name()
	}
	return out
}
