// Package entities defines core domain models and data structures.
package entities

import (
	"fmt"
	"strings"
)

// LatestConstraint is the implicit version constraint of a single-package audit
const LatestConstraint = "latest"

// Dependency is one (name, version constraint) pair of a selection
type Dependency struct {
	Name       string
	Constraint string
}

// DependencySelection is an ordered list of dependencies to audit.
// Names are unique within a selection.
type DependencySelection []Dependency

// SinglePackage builds a selection for one package at the latest version
func SinglePackage(name string) DependencySelection {
	return DependencySelection{{Name: name, Constraint: LatestConstraint}}
}

// ParsePackageSpec parses "name", "name@constraint" or "@scope/name@constraint"
func ParsePackageSpec(spec string) (Dependency, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Dependency{}, fmt.Errorf("package spec is empty")
	}

	// A leading @ belongs to the scope, so only an @ after it separates the constraint.
	idx := strings.LastIndex(spec, "@")
	if idx <= 0 {
		return Dependency{Name: spec, Constraint: LatestConstraint}, nil
	}

	name, constraint := spec[:idx], spec[idx+1:]
	if constraint == "" {
		constraint = LatestConstraint
	}
	return Dependency{Name: name, Constraint: constraint}, nil
}

// IsEmpty reports whether the selection has no dependencies
func (s DependencySelection) IsEmpty() bool {
	return len(s) == 0
}

// Names returns dependency names in selection order
func (s DependencySelection) Names() []string {
	names := make([]string, 0, len(s))
	for _, dep := range s {
		names = append(names, dep.Name)
	}
	return names
}

// Validate checks that every name is present and unique
func (s DependencySelection) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, dep := range s {
		if strings.TrimSpace(dep.Name) == "" {
			return fmt.Errorf("dependency %d has an empty name", i)
		}
		if _, dup := seen[dep.Name]; dup {
			return fmt.Errorf("dependency %s is listed more than once", dep.Name)
		}
		seen[dep.Name] = struct{}{}
	}
	return nil
}

// String renders the selection as name@constraint pairs
func (s DependencySelection) String() string {
	parts := make([]string, 0, len(s))
	for _, dep := range s {
		parts = append(parts, dep.Name+"@"+dep.Constraint)
	}
	return strings.Join(parts, ", ")
}
