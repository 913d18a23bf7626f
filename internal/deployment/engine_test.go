package deployment

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/downloader"
	"github.com/fleetedge/agentcore/internal/resolver"
	"github.com/fleetedge/agentcore/internal/statecache"
	"github.com/fleetedge/agentcore/internal/supervisor"
)

// fakeRecipeStore is an in-memory RecipeStore keyed by component name,
// holding every version a test wants the resolver/engine to see.
type fakeRecipeStore struct {
	recipes map[string][]component.Recipe
}

func newFakeRecipeStore() *fakeRecipeStore {
	return &fakeRecipeStore{recipes: make(map[string][]component.Recipe)}
}

func (s *fakeRecipeStore) add(name, version string, deps ...component.Dependency) {
	id, err := component.NewIdentifier(name, version)
	if err != nil {
		panic(err)
	}
	s.recipes[name] = append(s.recipes[name], component.Recipe{
		Identifier:   id,
		Dependencies: deps,
	})
}

func (s *fakeRecipeStore) Versions(name string) []component.Recipe {
	return s.recipes[name]
}

func (s *fakeRecipeStore) Get(id component.Identifier) (component.Recipe, bool) {
	for _, r := range s.recipes[id.Name] {
		if r.Identifier.Equal(id) {
			return r, true
		}
	}
	return component.Recipe{}, false
}

func mustConstraint(t *testing.T, expr string) *semver.Constraints {
	t.Helper()
	c, err := semver.NewConstraint(expr)
	if err != nil {
		t.Fatalf("invalid constraint %q: %v", expr, err)
	}
	return c
}

func newTestEngine(t *testing.T, recipes *fakeRecipeStore) (*Engine, *[]StatusUpdate) {
	t.Helper()
	var updates []StatusUpdate
	eng := New(Deps{
		Resolver:   resolver.New(recipes),
		Supervisor: supervisor.New(&supervisor.NoopExecutor{}, supervisor.Options{}),
		Downloader: downloader.NewFactory(),
		Recipes:    recipes,
		State:      statecache.NewMemoryStore(),
		OnStatus: func(u StatusUpdate) {
			updates = append(updates, u)
		},
	})
	return eng, &updates
}

func TestSubmitFreshInstallSucceeds(t *testing.T) {
	recipes := newFakeRecipeStore()
	recipes.add("app", "1.0.0")

	var updates []StatusUpdate
	eng := New(Deps{
		Resolver:   resolver.New(recipes),
		Supervisor: supervisor.New(&supervisor.NoopExecutor{}, supervisor.Options{}),
		Downloader: downloader.NewFactory(),
		Recipes:    recipes,
		State:      statecache.NewMemoryStore(),
		OnStatus:   func(u StatusUpdate) { updates = append(updates, u) },
	})

	doc := Document{
		ID:      "d1",
		GroupID: "group-a",
		Roots:   []RootComponent{{Name: "app", Constraint: "1.0.0"}},
		Source:  SourceLocal,
	}
	if err := eng.Submit(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Status != StatusSucceeded {
		t.Fatalf("got updates %+v, want one SUCCEEDED", updates)
	}
	rec, ok := eng.deps.Supervisor.Record("app")
	if !ok {
		t.Fatal("expected app to be recorded")
	}
	if rec.ObservedState != component.StateRunning {
		t.Fatalf("app state = %s, want RUNNING", rec.ObservedState)
	}
	if !rec.Root {
		t.Fatal("app should be marked as a deployment root")
	}
}

func TestSubmitUpgradeStopsOldBeforeStartingNew(t *testing.T) {
	recipes := newFakeRecipeStore()
	recipes.add("app", "1.0.0")
	recipes.add("app", "2.0.0")

	eng, _ := newTestEngine(t, recipes)
	ctx := context.Background()

	if err := eng.Submit(ctx, Document{ID: "d1", GroupID: "g", Roots: []RootComponent{{Name: "app", Constraint: "1.0.0"}}, Source: SourceLocal}); err != nil {
		t.Fatalf("initial install: %v", err)
	}
	if err := eng.Submit(ctx, Document{ID: "d2", GroupID: "g", Roots: []RootComponent{{Name: "app", Constraint: "2.0.0"}}, Source: SourceLocal}); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	rec, ok := eng.deps.Supervisor.Record("app")
	if !ok {
		t.Fatal("expected app to still be recorded")
	}
	if rec.Identifier.Version.String() != "2.0.0" {
		t.Fatalf("app version = %s, want 2.0.0", rec.Identifier.Version)
	}
	if rec.ObservedState != component.StateRunning {
		t.Fatalf("app state = %s, want RUNNING", rec.ObservedState)
	}
}

func TestSubmitRemovesComponentNoLongerDesired(t *testing.T) {
	recipes := newFakeRecipeStore()
	recipes.add("app", "1.0.0")
	recipes.add("other", "1.0.0")

	eng, _ := newTestEngine(t, recipes)
	ctx := context.Background()

	if err := eng.Submit(ctx, Document{ID: "d1", GroupID: "g", Roots: []RootComponent{{Name: "app", Constraint: "1.0.0"}}, Source: SourceLocal}); err != nil {
		t.Fatalf("install app: %v", err)
	}
	if err := eng.Submit(ctx, Document{ID: "d2", GroupID: "g", Roots: []RootComponent{{Name: "other", Constraint: "1.0.0"}}, Source: SourceLocal}); err != nil {
		t.Fatalf("replace with other: %v", err)
	}

	if _, ok := eng.deps.Supervisor.Record("app"); ok {
		t.Fatal("app should have been removed once no longer desired")
	}
	rec, ok := eng.deps.Supervisor.Record("other")
	if !ok || rec.ObservedState != component.StateRunning {
		t.Fatalf("other should be RUNNING, got %+v ok=%v", rec, ok)
	}
}

func TestSubmitRejectsStaleCloudDocument(t *testing.T) {
	recipes := newFakeRecipeStore()
	recipes.add("app", "1.0.0")

	eng, _ := newTestEngine(t, recipes)
	ctx := context.Background()

	first := Document{ID: "d1", GroupID: "g", Timestamp: 100, Roots: []RootComponent{{Name: "app", Constraint: "1.0.0"}}, Source: SourceCloudJob}
	if err := eng.Submit(ctx, first); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	stale := Document{ID: "d2", GroupID: "g", Timestamp: 50, Roots: []RootComponent{{Name: "app", Constraint: "1.0.0"}}, Source: SourceCloudJob}
	err := eng.Submit(ctx, stale)
	if err == nil {
		t.Fatal("expected a staleness error")
	}
	if _, ok := err.(*StaleDeploymentError); !ok {
		t.Fatalf("got %T, want *StaleDeploymentError", err)
	}
}

func TestSubmitUnsatisfiableReportsFailedWithoutRollback(t *testing.T) {
	recipes := newFakeRecipeStore()
	// No versions registered for "missing" at all.

	eng, updates := newTestEngine(t, recipes)
	doc := Document{ID: "d1", GroupID: "g", Roots: []RootComponent{{Name: "missing", Constraint: "1.0.0"}}, Source: SourceLocal, FailurePolicy: Rollback}

	if err := eng.Submit(context.Background(), doc); err == nil {
		t.Fatal("expected resolution failure")
	}

	var sawFailed, sawNotRequested bool
	for _, u := range *updates {
		if u.Status == StatusFailed {
			sawFailed = true
		}
		if u.Status == StatusFailedRollbackNotRequested {
			sawNotRequested = true
		}
	}
	if !sawFailed || !sawNotRequested {
		t.Fatalf("got updates %+v, want FAILED and FAILED_ROLLBACK_NOT_REQUESTED", *updates)
	}
}

func TestSubmitDoNothingLeavesFailureReported(t *testing.T) {
	recipes := newFakeRecipeStore()

	eng, updates := newTestEngine(t, recipes)
	doc := Document{ID: "d1", GroupID: "g", Roots: []RootComponent{{Name: "missing", Constraint: "1.0.0"}}, Source: SourceLocal, FailurePolicy: DoNothing}

	if err := eng.Submit(context.Background(), doc); err == nil {
		t.Fatal("expected resolution failure")
	}
	if len(*updates) != 1 || (*updates)[0].Status != StatusFailed {
		t.Fatalf("got updates %+v, want a single FAILED (DO_NOTHING reports no rollback status)", *updates)
	}
}

func TestComputePlanDetectsInstallUpgradeRemove(t *testing.T) {
	appOld, _ := component.NewIdentifier("app", "1.0.0")
	appNew, _ := component.NewIdentifier("app", "2.0.0")
	stale, _ := component.NewIdentifier("stale", "1.0.0")
	fresh, _ := component.NewIdentifier("fresh", "1.0.0")

	previous := map[string]component.Identifier{"app": appOld, "stale": stale}
	next := map[string]component.Identifier{"app": appNew, "fresh": fresh}

	p := computePlan(previous, next)
	if len(p.toInstall) != 1 || !p.toInstall[0].Equal(fresh) {
		t.Fatalf("toInstall = %+v, want [fresh]", p.toInstall)
	}
	if len(p.toUpgrade) != 1 || !p.toUpgrade[0].old.Equal(appOld) || !p.toUpgrade[0].new.Equal(appNew) {
		t.Fatalf("toUpgrade = %+v, want app 1.0.0 -> 2.0.0", p.toUpgrade)
	}
	if len(p.toRemove) != 1 || !p.toRemove[0].Equal(stale) {
		t.Fatalf("toRemove = %+v, want [stale]", p.toRemove)
	}
}
