package scope

import (
	"fmt"
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/util/sets"
)

// Selector computes build scopes against the registry under the module
// set's configured policy. Selection is a pure computation: discarding the
// returned scope has no side effects to undo.
type Selector struct {
	reg            *registry.Registry
	history        History
	strategy       Strategy
	incremental    bool
	ignoreUpstream bool
}

// NewSelector creates a Selector. history may be nil only when incremental
// selection is disabled.
func NewSelector(reg *registry.Registry, history History, strategy Strategy, incremental bool) (*Selector, error) {
	if !strategy.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown build strategy %q", strategy))
	}
	if incremental && strategy != StrategyPerModule {
		return nil, errors.ValidationError("incremental selection requires the per-module strategy")
	}
	if incremental && history == nil {
		return nil, errors.ValidationError("incremental selection requires a build history")
	}
	return &Selector{reg: reg, history: history, strategy: strategy, incremental: incremental}, nil
}

// IgnoreUpstreamChanges controls whether incremental selection pulls in the
// dependents of changed modules. When ignoring, a module is rebuilt only for
// its own changes or its own previous failure, never because something it
// depends on changed.
func (s *Selector) IgnoreUpstreamChanges(ignore bool) *Selector {
	s.ignoreUpstream = ignore
	return s
}

// Select computes the modules participating in the cycle for the trigger.
// Trigger kinds outside the configured policy are rejected rather than
// guessed at.
func (s *Selector) Select(trigger Trigger) (Scope, error) {
	switch tr := trigger.(type) {
	case AggregateTrigger:
		if s.strategy != StrategyAggregate {
			return Scope{}, errors.ValidationError("aggregate trigger under per-module strategy")
		}
		return s.selectAggregate()
	case ModuleTrigger:
		if s.strategy != StrategyPerModule || s.incremental {
			return Scope{}, errors.ValidationError("module trigger requires non-incremental per-module strategy")
		}
		return s.selectModule(tr.Module)
	case IncrementalTrigger:
		if !s.incremental {
			return Scope{}, errors.ValidationError("incremental trigger on a non-incremental module set")
		}
		return s.selectIncremental(tr.Changed)
	default:
		return Scope{}, errors.ValidationError(fmt.Sprintf("unknown trigger kind %q", trigger.Kind()))
	}
}

func (s *Selector) selectAggregate() (Scope, error) {
	active, err := s.reg.ActiveModulesSorted()
	if err != nil {
		return Scope{}, err
	}
	return Scope{Modules: active, Aggregate: true}, nil
}

func (s *Selector) selectModule(name modname.ModuleName) (Scope, error) {
	m, ok := s.reg.Get(name)
	if !ok {
		return Scope{}, errors.ValidationError("unknown module " + name.String())
	}
	if m.Disabled() {
		return Scope{}, errors.ValidationError("module " + name.String() + " is disabled")
	}
	return Scope{Modules: []*registry.Module{m}}, nil
}

// selectIncremental selects the changed modules, every module whose
// previous build failed or was unstable, and the transitive dependents of
// both, ordered topologically. An empty result is the valid nothing-to-do
// outcome, not an error.
func (s *Selector) selectIncremental(changed []modname.ModuleName) (Scope, error) {
	active, err := s.reg.ActiveModulesSorted()
	if err != nil {
		return Scope{}, err
	}
	activeSet := sets.New[modname.ModuleName]()
	for _, m := range active {
		activeSet.Add(m.Name())
	}

	// Change sets come from path mapping and may mention modules that are
	// unknown, removed, or disabled; those are silently dropped.
	seeds := sets.New[modname.ModuleName]()
	var changedKept []modname.ModuleName
	for _, name := range changed {
		if activeSet.Has(name) && !seeds.Has(name) {
			seeds.Add(name)
			changedKept = append(changedKept, name)
		}
	}

	for _, m := range active {
		if s.history.LastResult(m.Name()).NeedsRebuild() {
			seeds.Add(m.Name())
		}
	}

	if len(seeds) == 0 {
		return Scope{}, nil
	}

	g := s.reg.ActiveDependencyGraph()
	closure := sets.New[modname.ModuleName]()
	if !s.ignoreUpstream {
		closure = g.TransitiveDependents(seeds.Values()...)
	}
	selected := seeds.Clone().Union(closure)

	if err := g.DetectCycleWithin(selected); err != nil {
		return Scope{}, err
	}

	var modules []*registry.Module
	for _, m := range active { // active is already in topological order
		if selected.Has(m.Name()) {
			modules = append(modules, m)
		}
	}

	var dependents []modname.ModuleName
	for name := range closure {
		if !seeds.Has(name) {
			dependents = append(dependents, name)
		}
	}
	sortNames(dependents)
	sortNames(changedKept)

	slog.Debug("Incremental scope selected",
		logfields.ModuleSet(s.reg.SetName()),
		logfields.Count(len(modules)),
		slog.Int("changed", len(changedKept)),
		slog.Int("dependents", len(dependents)))

	return Scope{Modules: modules, Changed: changedKept, Dependents: dependents}, nil
}

func sortNames(names []modname.ModuleName) {
	sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })
}
