// Package buildnum keeps the module set's build numbering consistent: the
// set's next build number is always at least the maximum of its modules'
// counters, so build numbers communicate relative recency across the whole
// group even though modules may build independently.
package buildnum

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/registry"
)

// CounterStore persists the module set's raised next-build-number.
// Persistence of module counters is owned by the history collaborator and
// never happens here.
type CounterStore interface {
	SaveNextBuildNumber(ctx context.Context, n int) error
}

// ModuleLister supplies the modules whose counters participate in the scan.
type ModuleLister interface {
	Modules() []*registry.Module
}

// Synchronizer issues build numbers for the module set and its modules.
// All assignment goes through one mutual-exclusion domain: two concurrent
// reservations, whatever their targets, can never interleave their
// scan-then-commit steps. The lock is held only for the scan and commit,
// never across build execution.
type Synchronizer struct {
	mu      sync.Mutex
	store   CounterStore
	modules ModuleLister
	setName string

	next int // the module set's own next-build-number counter
}

// New creates a Synchronizer seeded with the persisted set counter.
func New(setName string, store CounterStore, modules ModuleLister, initial int) *Synchronizer {
	return &Synchronizer{setName: setName, store: store, modules: modules, next: initial}
}

// NextBuildNumber returns the set's current counter without advancing it.
func (s *Synchronizer) NextBuildNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ReserveSet issues the next build number for the module set itself. The
// counter is first raised to the maximum across the set and all module
// counters, then incremented; the raised value is persisted before it
// becomes visible. On a persistence failure the in-memory counter is rolled
// back to its pre-scan value and a *errors.PersistenceError returned, so a
// retry converges to the same or a higher number, never lower.
func (s *Synchronizer) ReserveSet(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.next
	issued := s.scanMax() + 1
	if err := s.store.SaveNextBuildNumber(ctx, issued); err != nil {
		s.next = prev
		return 0, &errors.PersistenceError{Op: "save module set build number", Cause: err}
	}
	s.next = issued
	slog.Debug("Reserved module set build number",
		logfields.ModuleSet(s.setName),
		logfields.BuildNumber(issued))
	return issued, nil
}

// ReserveModule issues the next build number for one module, inside the
// same exclusion domain as ReserveSet. Before the module's counter is
// advanced, the set counter is raised to the scan maximum (and persisted)
// so the group invariant holds at the moment of issue; module counters are
// only ever read here, never pushed upward.
func (s *Synchronizer) ReserveModule(ctx context.Context, m *registry.Module) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.next
	if max := s.scanMax(); max > s.next {
		if err := s.store.SaveNextBuildNumber(ctx, max); err != nil {
			s.next = prev
			return 0, &errors.PersistenceError{Op: "save module set build number", Cause: err}
		}
		s.next = max
	}

	issued := m.NextBuildNumber() + 1
	m.SetNextBuildNumber(issued)
	slog.Debug("Reserved module build number",
		logfields.ModuleSet(s.setName),
		logfields.Module(m.Name().String()),
		logfields.BuildNumber(issued))
	return issued, nil
}

// scanMax computes max(set counter, all module counters). Caller holds s.mu.
func (s *Synchronizer) scanMax() int {
	next := s.next
	for _, m := range s.modules.Modules() {
		if n := m.NextBuildNumber(); n > next {
			next = n
		}
	}
	return next
}
