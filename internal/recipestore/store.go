// Package recipestore implements the on-disk recipe store named in
// spec.md §6: packages/recipes/<hash(name)>@<version>.recipe.yaml. It is
// read-mostly (resolver and downloader read it); writes are exclusive to
// the downloader path and go through a commit-then-rename protocol so
// readers never observe a partial file.
package recipestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// document is the minimal on-disk recipe representation. The full vendor
// recipe DSL (platform manifests, complex selectors) is out of scope;
// this covers what the resolver, downloader and supervisor need.
type document struct {
	Name    string `yaml:"ComponentName"`
	Version string `yaml:"ComponentVersion"`
	DependsOn map[string]struct {
		VersionRequirement string `yaml:"VersionRequirement"`
		DependencyType     string `yaml:"DependencyType"`
	} `yaml:"ComponentDependencies"`
	Artifacts []struct {
		URI       string `yaml:"URI"`
		Digest    string `yaml:"Digest"`
		Algorithm string `yaml:"Algorithm"`
	} `yaml:"Artifacts"`
	Hooks struct {
		Install  string `yaml:"install"`
		Run      string `yaml:"run"`
		Shutdown string `yaml:"shutdown"`
	} `yaml:"Lifecycle"`
	PublishedAt int64 `yaml:"PublishedAt"`
}

// Store is a read-mostly, filesystem-backed recipe store rooted at
// <root>/packages/recipes.
type Store struct {
	root string

	mu    sync.RWMutex
	cache map[string][]component.Recipe // by component name, all known versions
}

// New opens a Store rooted at root (the agent's <root> directory, per
// spec.md §6).
func New(root string) (*Store, error) {
	dir := filepath.Join(root, "packages", "recipes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recipestore: create %s: %w", dir, err)
	}
	s := &Store{root: root, cache: make(map[string][]component.Recipe)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) recipesDir() string {
	return filepath.Join(s.root, "packages", "recipes")
}

// fileName returns the stable on-disk name for a recipe: the hashed
// component name keeps filenames filesystem-safe for arbitrary names.
func fileName(name, version string) string {
	h := sha256.Sum256([]byte(name))
	return fmt.Sprintf("%s@%s.recipe.yaml", hex.EncodeToString(h[:])[:16], version)
}

func (s *Store) reload() error {
	entries, err := os.ReadDir(s.recipesDir())
	if err != nil {
		return fmt.Errorf("recipestore: read dir: %w", err)
	}
	cache := make(map[string][]component.Recipe)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.recipesDir(), e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc document
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			continue
		}
		recipe, err := fromDocument(doc)
		if err != nil {
			continue
		}
		cache[recipe.Identifier.Name] = append(cache[recipe.Identifier.Name], recipe)
	}
	for name := range cache {
		sort.Slice(cache[name], func(i, j int) bool {
			return cache[name][i].Identifier.Less(cache[name][j].Identifier)
		})
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

func fromDocument(doc document) (component.Recipe, error) {
	id, err := component.NewIdentifier(doc.Name, doc.Version)
	if err != nil {
		return component.Recipe{}, err
	}
	r := component.Recipe{
		Identifier: id,
		Hooks: component.Hooks{
			Install:  doc.Hooks.Install,
			Run:      doc.Hooks.Run,
			Shutdown: doc.Hooks.Shutdown,
		},
		PublishedAt: doc.PublishedAt,
	}
	for depName, dep := range doc.DependsOn {
		kind := component.DependencyHard
		if dep.DependencyType == string(component.DependencySoft) {
			kind = component.DependencySoft
		}
		constraint := dep.VersionRequirement
		if constraint == "" {
			constraint = "*"
		}
		d, err := component.NewDependency(depName, constraint, kind)
		if err != nil {
			return component.Recipe{}, err
		}
		r.Dependencies = append(r.Dependencies, d)
	}
	for _, a := range doc.Artifacts {
		r.Artifacts = append(r.Artifacts, component.ArtifactRef{
			URI:       a.URI,
			Digest:    a.Digest,
			Algorithm: a.Algorithm,
		})
	}
	return r, nil
}

// Versions returns every known version of name, ascending semver order.
func (s *Store) Versions(name string) []component.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]component.Recipe, len(s.cache[name]))
	copy(out, s.cache[name])
	return out
}

// Get returns the recipe for an exact identifier.
func (s *Store) Get(id component.Identifier) (component.Recipe, bool) {
	for _, r := range s.Versions(id.Name) {
		if r.Identifier.Equal(id) {
			return r, true
		}
	}
	return component.Recipe{}, false
}

// Put writes a recipe to disk via commit-then-rename: the document is
// written to a temp file in the same directory, then atomically renamed
// into place, so concurrent readers never see a partially-written file.
func (s *Store) Put(r component.Recipe) error {
	doc := toDocument(r)
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("recipestore: marshal: %w", err)
	}
	final := filepath.Join(s.recipesDir(), fileName(r.Identifier.Name, r.Identifier.Version.String()))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("recipestore: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("recipestore: commit rename: %w", err)
	}
	s.mu.Lock()
	s.cache[r.Identifier.Name] = append(s.cache[r.Identifier.Name], r)
	sort.Slice(s.cache[r.Identifier.Name], func(i, j int) bool {
		return s.cache[r.Identifier.Name][i].Identifier.Less(s.cache[r.Identifier.Name][j].Identifier)
	})
	s.mu.Unlock()
	return nil
}

// Remove deletes a recipe from disk and from the cache (used by the
// install/uninstall round-trip law in spec.md §8).
func (s *Store) Remove(id component.Identifier) error {
	final := filepath.Join(s.recipesDir(), fileName(id.Name, id.Version.String()))
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recipestore: remove: %w", err)
	}
	s.mu.Lock()
	versions := s.cache[id.Name]
	kept := versions[:0]
	for _, r := range versions {
		if !r.Identifier.Equal(id) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(s.cache, id.Name)
	} else {
		s.cache[id.Name] = kept
	}
	s.mu.Unlock()
	return nil
}

func toDocument(r component.Recipe) document {
	doc := document{
		Name:        r.Identifier.Name,
		Version:     r.Identifier.Version.String(),
		PublishedAt: r.PublishedAt,
	}
	doc.Hooks.Install = r.Hooks.Install
	doc.Hooks.Run = r.Hooks.Run
	doc.Hooks.Shutdown = r.Hooks.Shutdown
	doc.DependsOn = make(map[string]struct {
		VersionRequirement string `yaml:"VersionRequirement"`
		DependencyType     string `yaml:"DependencyType"`
	})
	for _, d := range r.Dependencies {
		doc.DependsOn[d.Name] = struct {
			VersionRequirement string `yaml:"VersionRequirement"`
			DependencyType     string `yaml:"DependencyType"`
		}{VersionRequirement: d.Range.String(), DependencyType: string(d.Kind)}
	}
	for _, a := range r.Artifacts {
		doc.Artifacts = append(doc.Artifacts, struct {
			URI       string `yaml:"URI"`
			Digest    string `yaml:"Digest"`
			Algorithm string `yaml:"Algorithm"`
		}{URI: a.URI, Digest: a.Digest, Algorithm: a.Algorithm})
	}
	return doc
}
