// Package resolver implements the dependency resolution algorithm of
// spec.md §4.3: a backtracking DFS over candidate versions, preferring
// higher semver, that returns a compatible ComponentIdentifier set or
// fails with UNSATISFIABLE or CYCLE.
package resolver

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// Store is the read interface the resolver needs from the recipe store.
type Store interface {
	Versions(name string) []component.Recipe
}

// Resolver resolves root requests against a Store.
type Resolver struct {
	store Store
}

// New creates a Resolver backed by store.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// RootRequest is one of the caller's root component requests.
type RootRequest struct {
	Name       string
	Constraint *semver.Constraints
}

// Resolve returns the set of ComponentIdentifiers that satisfies every
// HARD constraint reachable from roots. installed names components
// already present locally, used only to break ties between otherwise
// equal candidates.
func (r *Resolver) Resolve(roots []RootRequest, installed map[string]component.Identifier) ([]component.Identifier, error) {
	s := &resolveState{
		store:     r.store,
		installed: installed,
		assigned:  make(map[string]component.Identifier),
	}
	for _, root := range roots {
		if err := s.resolve(root.Name, root.Constraint, component.DependencyHard, nil); err != nil {
			return nil, err
		}
	}
	return s.order, nil
}

type resolveState struct {
	store     Store
	installed map[string]component.Identifier
	assigned  map[string]component.Identifier
	order     []component.Identifier
}

func (s *resolveState) resolve(name string, constraint *semver.Constraints, kind component.DependencyKind, path []string) error {
	for _, p := range path {
		if p != name {
			continue
		}
		if kind == component.DependencyHard {
			return &CycleError{Path: append(append([]string{}, path...), name)}
		}
		// A SOFT edge back into an in-progress node is elided rather
		// than treated as a cycle failure.
		return nil
	}

	if id, ok := s.assigned[name]; ok {
		if constraint == nil || constraint.Check(id.Version) {
			return nil
		}
		if kind == component.DependencySoft {
			return nil
		}
		return &UnsatisfiableError{Component: name, Constraints: constraintString(constraint)}
	}

	candidates := s.filterCandidates(name, constraint)
	if len(candidates) == 0 {
		if kind == component.DependencySoft {
			return nil
		}
		return &UnsatisfiableError{Component: name, Constraints: constraintString(constraint)}
	}

	s.orderCandidates(name, candidates)

	newPath := append(append([]string{}, path...), name)
	var lastErr error
	for _, cand := range candidates {
		s.assigned[name] = cand.Identifier
		ok := true
		for _, dep := range cand.Dependencies {
			if err := s.resolve(dep.Name, dep.Range, dep.Kind, newPath); err != nil {
				if dep.Kind == component.DependencySoft {
					continue
				}
				ok = false
				lastErr = err
				break
			}
		}
		if ok {
			s.order = append(s.order, cand.Identifier)
			return nil
		}
		delete(s.assigned, name)
	}

	if kind == component.DependencySoft {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return &UnsatisfiableError{Component: name, Constraints: constraintString(constraint)}
}

func (s *resolveState) filterCandidates(name string, constraint *semver.Constraints) []component.Recipe {
	var out []component.Recipe
	for _, r := range s.store.Versions(name) {
		if constraint == nil || constraint.Check(r.Identifier.Version) {
			out = append(out, r)
		}
	}
	return out
}

// orderCandidates sorts candidates so the preferred choice is first:
// higher semver, then the version already installed locally, then the
// most recently published.
func (s *resolveState) orderCandidates(name string, candidates []component.Recipe) {
	installedVersion, hasInstalled := s.installed[name]
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Identifier.Version.Equal(b.Identifier.Version) {
			return a.Identifier.Version.GreaterThan(b.Identifier.Version)
		}
		if hasInstalled {
			aInstalled := a.Identifier.Equal(installedVersion)
			bInstalled := b.Identifier.Equal(installedVersion)
			if aInstalled != bInstalled {
				return aInstalled
			}
		}
		return a.PublishedAt > b.PublishedAt
	})
}

func constraintString(c *semver.Constraints) string {
	if c == nil {
		return "*"
	}
	return c.String()
}
