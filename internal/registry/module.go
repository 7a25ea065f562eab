// Package registry holds the authoritative mapping from module identity to
// module state for one module set. The collection is replaced wholesale on
// every mutation so readers never observe a partially-updated structure and
// never take a lock.
package registry

import (
	"sync"

	"git.home.luguber.info/inful/modset/internal/modname"
)

// Module represents one buildable sub-project of the set. The name and the
// source descriptor never change after creation. Build history is owned by
// the external history collaborator; only the next-build-number counter
// lives here.
type Module struct {
	name         modname.ModuleName
	descriptor   string
	dependencies []modname.ModuleName

	mu              sync.Mutex
	disabled        bool
	nextBuildNumber int
}

// NewModule creates a module discovered from the given source descriptor.
// dependencies are the declared build-order dependencies from the
// descriptor; edges to modules outside the set are tolerated and ignored by
// consumers.
func NewModule(name modname.ModuleName, descriptor string, dependencies []modname.ModuleName) *Module {
	deps := make([]modname.ModuleName, len(dependencies))
	copy(deps, dependencies)
	return &Module{name: name, descriptor: descriptor, dependencies: deps}
}

// Name returns the module's identity.
func (m *Module) Name() modname.ModuleName { return m.name }

// Descriptor returns the source descriptor path the module was created from.
func (m *Module) Descriptor() string { return m.descriptor }

// Dependencies returns a copy of the declared build-order dependencies.
func (m *Module) Dependencies() []modname.ModuleName {
	out := make([]modname.ModuleName, len(m.dependencies))
	copy(out, m.dependencies)
	return out
}

// Disabled reports whether the module is excluded from active ordering and
// aggregate builds.
func (m *Module) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

func (m *Module) setDisabled(disabled bool) {
	m.mu.Lock()
	m.disabled = disabled
	m.mu.Unlock()
}

// NextBuildNumber returns the module's own counter.
func (m *Module) NextBuildNumber() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextBuildNumber
}

// SetNextBuildNumber stores the module's counter. Callers issuing new build
// numbers must do so inside the synchronizer's exclusion domain; direct use
// is reserved for seeding from the history collaborator.
func (m *Module) SetNextBuildNumber(n int) {
	m.mu.Lock()
	m.nextBuildNumber = n
	m.mu.Unlock()
}
