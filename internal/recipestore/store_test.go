package recipestore

import (
	"os"
	"testing"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

func mustIdentifier(t *testing.T, name, version string) component.Identifier {
	t.Helper()
	id, err := component.NewIdentifier(name, version)
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}
	return id
}

func TestPutGetRemoveRoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dep, err := component.NewDependency("GreenSignal", ">=1.0.0", component.DependencyHard)
	if err != nil {
		t.Fatalf("NewDependency: %v", err)
	}
	recipe := component.Recipe{
		Identifier:   mustIdentifier(t, "CustomerApp", "1.0.0"),
		Dependencies: []component.Dependency{dep},
		Hooks:        component.Hooks{Install: "echo install", Run: "echo run"},
	}

	if err := store.Put(recipe); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := store.Get(recipe.Identifier)
	if !ok {
		t.Fatalf("Get: recipe not found after Put")
	}
	if got.Hooks.Install != "echo install" {
		t.Errorf("Hooks.Install = %q, want %q", got.Hooks.Install, "echo install")
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].Name != "GreenSignal" {
		t.Errorf("Dependencies = %+v, want one dependency on GreenSignal", got.Dependencies)
	}

	entries, err := os.ReadDir(store.recipesDir())
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one recipe file on disk, got %d (err=%v)", len(entries), err)
	}

	if err := store.Remove(recipe.Identifier); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.Get(recipe.Identifier); ok {
		t.Errorf("Get: recipe still present after Remove")
	}
	entries, err = os.ReadDir(store.recipesDir())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty recipes dir after Remove, got %d entries (err=%v)", len(entries), err)
	}
}

func TestVersionsSortedAscending(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, v := range []string{"2.0.0", "1.0.0", "1.5.0"} {
		if err := store.Put(component.Recipe{Identifier: mustIdentifier(t, "App", v)}); err != nil {
			t.Fatalf("Put %s: %v", v, err)
		}
	}
	versions := store.Versions("App")
	if len(versions) != 3 {
		t.Fatalf("Versions returned %d entries, want 3", len(versions))
	}
	want := []string{"1.0.0", "1.5.0", "2.0.0"}
	for i, r := range versions {
		if r.Identifier.Version.String() != want[i] {
			t.Errorf("Versions[%d] = %s, want %s", i, r.Identifier.Version.String(), want[i])
		}
	}
}
