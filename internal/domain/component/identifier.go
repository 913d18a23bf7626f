// Package component defines the core data model shared by the resolver,
// supervisor, downloader and deployment engine: component identifiers,
// artifact references, recipes and the in-memory component record.
package component

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Identifier is a (name, version) pair. Equality is over both fields;
// ordering is by semver within a name.
type Identifier struct {
	Name    string
	Version *semver.Version
}

// NewIdentifier parses version and returns an Identifier, or an error if
// version is not valid semver.
func NewIdentifier(name, version string) (Identifier, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return Identifier{}, fmt.Errorf("component %q: invalid version %q: %w", name, version, err)
	}
	return Identifier{Name: name, Version: v}, nil
}

// Equal reports whether two identifiers name the same component version.
func (id Identifier) Equal(other Identifier) bool {
	if id.Name != other.Name {
		return false
	}
	if id.Version == nil || other.Version == nil {
		return id.Version == other.Version
	}
	return id.Version.Equal(other.Version)
}

// Less orders identifiers by name, then by semver ascending.
func (id Identifier) Less(other Identifier) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.Version == nil || other.Version == nil {
		return false
	}
	return id.Version.LessThan(other.Version)
}

func (id Identifier) String() string {
	if id.Version == nil {
		return id.Name
	}
	return fmt.Sprintf("%s@%s", id.Name, id.Version.String())
}

// DependencyKind distinguishes HARD dependencies (must be satisfied, and
// order startup/shutdown) from SOFT ones (best-effort, elided on
// conflict).
type DependencyKind string

const (
	DependencyHard DependencyKind = "HARD"
	DependencySoft DependencyKind = "SOFT"
)

// Dependency names a required component and the range of versions that
// satisfy it.
type Dependency struct {
	Name  string
	Range *semver.Constraints
	Kind  DependencyKind
}

// NewDependency parses a constraint expression (e.g. ">=1.0.0, <2.0.0").
func NewDependency(name, constraint string, kind DependencyKind) (Dependency, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: invalid constraint %q: %w", name, constraint, err)
	}
	return Dependency{Name: name, Range: c, Kind: kind}, nil
}

// ArtifactRef names a file a recipe requires, with an optional digest
// for integrity verification. Absent digest means "accept any local
// copy".
type ArtifactRef struct {
	URI       string
	Digest    string
	Algorithm string
}

// HasDigest reports whether the artifact carries an expected digest.
func (a ArtifactRef) HasDigest() bool {
	return a.Digest != "" && a.Algorithm != ""
}

// Hooks holds the opaque lifecycle hook strings a Recipe declares. The
// supervisor passes these verbatim to an external executor; it never
// interprets their contents.
type Hooks struct {
	Install  string
	Run      string
	Shutdown string
}

// PlatformSelector narrows a recipe's artifacts/hooks to a platform; an
// empty selector matches every platform.
type PlatformSelector struct {
	OS   string
	Arch string
}

// Recipe is the declarative definition of one component version.
type Recipe struct {
	Identifier   Identifier
	Dependencies []Dependency
	Artifacts    []ArtifactRef
	Hooks        Hooks
	Platform     PlatformSelector
	// PublishedAt breaks ties between equal semver candidates in the
	// resolver (prefer the one most recently published).
	PublishedAt int64
}

// HardDependencies returns the subset of Dependencies with Kind HARD.
func (r Recipe) HardDependencies() []Dependency {
	var out []Dependency
	for _, d := range r.Dependencies {
		if d.Kind == DependencyHard {
			out = append(out, d)
		}
	}
	return out
}
