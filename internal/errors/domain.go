package errors

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/modset/internal/modname"
)

// DuplicateModuleError reports two distinct module identities whose names
// canonicalize identically but originate from different source descriptors.
// This is a configuration conflict: surfaced to the operator, never retried.
type DuplicateModuleError struct {
	Name               modname.ModuleName
	ExistingDescriptor string
	IncomingDescriptor string
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("duplicate module %s: descriptor %q conflicts with %q",
		e.Name, e.IncomingDescriptor, e.ExistingDescriptor)
}

// CyclicDependencyError reports a dependency cycle among modules. The
// previous valid ordering is retained by the caller; the cycle is never
// silently broken.
type CyclicDependencyError struct {
	// Members lists the modules known to participate in (or block) the
	// cycle, in detection order.
	Members []modname.ModuleName
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Members) == 0 {
		return "cyclic module dependency detected"
	}
	parts := make([]string, len(e.Members))
	for i, m := range e.Members {
		parts[i] = m.String()
	}
	return "cyclic module dependency involving " + strings.Join(parts, " -> ")
}

// PersistenceError reports a transient I/O failure from the persistence
// collaborator. In-memory state has been rolled back; the operation is safe
// to retry.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// MalformedResourceDeclaration reports a publisher or build wrapper that
// declared a resource activity with an empty resource name. Recoverable:
// the contribution is skipped and counted, never fatal.
type MalformedResourceDeclaration struct {
	Step string
}

func (e *MalformedResourceDeclaration) Error() string {
	return fmt.Sprintf("build step %q declared a resource activity with no resource name", e.Step)
}
