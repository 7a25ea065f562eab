// Package modname defines the structured module identifier used to key
// modules within a module set. A ModuleName is an immutable value; two
// names are equal iff their canonical string forms match (case-sensitive).
package modname

import (
	"fmt"
	"strings"
)

// ModuleName identifies one buildable sub-project by its organisation and
// module name, mirroring the <info organisation="..." module="..."/> element
// of an Ivy descriptor.
type ModuleName struct {
	Organisation string
	Name         string
}

// New constructs a ModuleName. Both parts are required and must not contain
// the ':' separator used by the canonical form.
func New(organisation, name string) (ModuleName, error) {
	if organisation == "" || name == "" {
		return ModuleName{}, fmt.Errorf("module name requires organisation and name, got %q:%q", organisation, name)
	}
	if strings.ContainsRune(organisation, ':') || strings.ContainsRune(name, ':') {
		return ModuleName{}, fmt.Errorf("module name parts must not contain ':': %q:%q", organisation, name)
	}
	return ModuleName{Organisation: organisation, Name: name}, nil
}

// Parse parses the canonical "organisation:name" form.
func Parse(s string) (ModuleName, error) {
	org, name, ok := strings.Cut(s, ":")
	if !ok {
		return ModuleName{}, fmt.Errorf("invalid module name %q: want organisation:name", s)
	}
	return New(org, name)
}

// IsValid reports whether s parses as a canonical module name.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the canonical "organisation:name" form.
func (n ModuleName) String() string {
	return n.Organisation + ":" + n.Name
}

// FileSystemName returns a filesystem-safe form of the name. The '$'
// separator cannot occur in either part of a descriptor identifier, so the
// mapping is reversible.
func (n ModuleName) FileSystemName() string {
	return strings.ReplaceAll(n.Organisation, "/", "_") + "$" + strings.ReplaceAll(n.Name, "/", "_")
}

// Less orders names by their canonical string form. Used as the
// deterministic tie-breaker in topological sorts.
func (n ModuleName) Less(o ModuleName) bool {
	return n.String() < o.String()
}

// IsZero reports whether the name is the zero value.
func (n ModuleName) IsZero() bool {
	return n.Organisation == "" && n.Name == ""
}

// MarshalText encodes the canonical form, so JSON and YAML payloads
// carry "organisation:name" instead of a two-field object.
func (n ModuleName) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses the canonical form.
func (n *ModuleName) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
