package registry

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/graph"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/modname"
)

// Registry is the shared substrate of a module set: the ModuleName→Module
// mapping plus the cached topological ordering of active (non-disabled)
// modules. Reads are lock-free against an immutable snapshot; writes
// replace the whole snapshot under a writer mutex.
type Registry struct {
	setName string

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// snapshot is immutable once published.
type snapshot struct {
	modules map[modname.ModuleName]*Module

	// sorted is the cached topological ordering of active modules. When the
	// last recomputation failed sortErr carries the cycle error and sorted
	// retains the previous stale-but-valid ordering.
	sorted  []*Module
	sortErr error

	// depGraph spans the active modules; kept alongside sorted so the
	// incremental closure works off the same edge set as the ordering.
	depGraph *graph.Graph
}

// New creates an empty registry for the named module set.
func New(setName string) *Registry {
	r := &Registry{setName: setName}
	r.snap.Store(&snapshot{
		modules:  map[modname.ModuleName]*Module{},
		sorted:   []*Module{},
		depGraph: graph.New(),
	})
	return r
}

// SetName returns the owning module set's name.
func (r *Registry) SetName() string { return r.setName }

// Upsert inserts or replaces a module keyed by its name. Two distinct
// identities whose names canonicalize identically but originate from
// different source descriptors are a configuration conflict and yield a
// *errors.DuplicateModuleError; nothing is modified in that case.
//
// The mapping update always takes effect for a non-conflicting module; if
// the active set can no longer be ordered the previous cached ordering is
// retained and the *errors.CyclicDependencyError returned.
func (r *Registry) Upsert(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if existing, ok := cur.modules[m.Name()]; ok && existing.Descriptor() != m.Descriptor() {
		return &errors.DuplicateModuleError{
			Name:               m.Name(),
			ExistingDescriptor: existing.Descriptor(),
			IncomingDescriptor: m.Descriptor(),
		}
	}

	modules := cloneModules(cur.modules)
	if existing, ok := modules[m.Name()]; ok {
		// Replacement keeps live state: a rescan must not reset the
		// counter or re-enable a deliberately disabled module.
		m.SetNextBuildNumber(existing.NextBuildNumber())
		m.setDisabled(existing.Disabled())
	}
	modules[m.Name()] = m
	return r.publish(cur, modules)
}

// Remove detaches the entry. It performs no filesystem or history side
// effects; real deletion is driven by the external deletion collaborator,
// which calls this after its own work completes.
func (r *Registry) Remove(name modname.ModuleName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.modules[name]; !ok {
		return nil
	}
	modules := cloneModules(cur.modules)
	delete(modules, name)
	return r.publish(cur, modules)
}

// SetDisabled flips the module's disabled flag and recomputes the active
// ordering. Unknown modules are a validation error.
func (r *Registry) SetDisabled(name modname.ModuleName, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	m, ok := cur.modules[name]
	if !ok {
		return errors.ValidationError("unknown module " + name.String())
	}
	m.setDisabled(disabled)
	return r.publish(cur, cloneModules(cur.modules))
}

// Seed bulk-loads modules from the persistence collaborator, applying the
// same duplicate check as Upsert and recomputing the ordering once.
func (r *Registry) Seed(modules []*Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := cloneModules(cur.modules)
	for _, m := range modules {
		if existing, ok := next[m.Name()]; ok && existing.Descriptor() != m.Descriptor() {
			return &errors.DuplicateModuleError{
				Name:               m.Name(),
				ExistingDescriptor: existing.Descriptor(),
				IncomingDescriptor: m.Descriptor(),
			}
		}
		next[m.Name()] = m
	}
	return r.publish(cur, next)
}

// Get returns the module by name.
func (r *Registry) Get(name modname.ModuleName) (*Module, bool) {
	m, ok := r.snap.Load().modules[name]
	return m, ok
}

// Has reports whether the module is registered.
func (r *Registry) Has(name modname.ModuleName) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered modules, disabled included.
func (r *Registry) Len() int { return len(r.snap.Load().modules) }

// Modules returns all modules sorted by canonical name, disabled included.
func (r *Registry) Modules() []*Module {
	snap := r.snap.Load()
	out := make([]*Module, 0, len(snap.modules))
	for _, m := range snap.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name().Less(out[j].Name()) })
	return out
}

// ModulesByDisabled returns the modules whose disabled flag matches,
// sorted by canonical name.
func (r *Registry) ModulesByDisabled(disabled bool) []*Module {
	var out []*Module
	for _, m := range r.Modules() {
		if m.Disabled() == disabled {
			out = append(out, m)
		}
	}
	return out
}

// HasDisabledModule reports whether any module is disabled.
func (r *Registry) HasDisabledModule() bool {
	return len(r.ModulesByDisabled(true)) > 0
}

// RemoveAllDisabled detaches every disabled module and returns how many
// were removed. Like Remove, this is registry maintenance only.
func (r *Registry) RemoveAllDisabled() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	modules := cloneModules(cur.modules)
	removed := 0
	for name, m := range cur.modules {
		if m.Disabled() {
			delete(modules, name)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, r.publish(cur, modules)
}

// ActiveModulesSorted returns the cached topological ordering of
// non-disabled modules. When the most recent recomputation failed on a
// cycle, the previous valid ordering is returned together with the sticky
// *errors.CyclicDependencyError; a partial or incorrect order is never
// returned.
func (r *Registry) ActiveModulesSorted() ([]*Module, error) {
	snap := r.snap.Load()
	out := make([]*Module, len(snap.sorted))
	copy(out, snap.sorted)
	return out, snap.sortErr
}

// ActiveDependencyGraph returns the build-order graph spanning the active
// modules. The graph is immutable once published; callers must not add
// nodes or edges.
func (r *Registry) ActiveDependencyGraph() *graph.Graph {
	return r.snap.Load().depGraph
}

// publish recomputes the ordering for the new mapping and swaps in the
// snapshot. Caller holds r.mu.
func (r *Registry) publish(prev *snapshot, modules map[modname.ModuleName]*Module) error {
	g := graph.New()
	for name, m := range modules {
		if m.Disabled() {
			continue
		}
		g.AddNode(name)
	}
	for name, m := range modules {
		if m.Disabled() {
			continue
		}
		for _, dep := range m.Dependencies() {
			g.AddEdge(dep, name)
		}
	}

	next := &snapshot{modules: modules, depGraph: g}
	order, err := g.TopoSort()
	if err != nil {
		// Stale-but-valid: keep the previous ordering and the previous
		// graph, surface the cycle.
		next.sorted = prev.sorted
		next.depGraph = prev.depGraph
		next.sortErr = err
		r.snap.Store(next)
		slog.Warn("Active module ordering retained after cycle",
			logfields.ModuleSet(r.setName),
			logfields.Error(err))
		return err
	}

	sorted := make([]*Module, 0, len(order))
	for _, name := range order {
		sorted = append(sorted, modules[name])
	}
	next.sorted = sorted
	r.snap.Store(next)
	return nil
}

func cloneModules(in map[modname.ModuleName]*Module) map[modname.ModuleName]*Module {
	out := make(map[modname.ModuleName]*Module, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
