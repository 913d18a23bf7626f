package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/pkg/clock"
)

func mustIdentifier(t *testing.T, name, version string) component.Identifier {
	t.Helper()
	id, err := component.NewIdentifier(name, version)
	if err != nil {
		t.Fatalf("NewIdentifier(%s, %s): %v", name, version, err)
	}
	return id
}

func mustDep(t *testing.T, name string, kind component.DependencyKind) component.Dependency {
	t.Helper()
	d, err := component.NewDependency(name, "*", kind)
	if err != nil {
		t.Fatalf("NewDependency: %v", err)
	}
	return d
}

func newRecord(t *testing.T, name, version string, deps ...component.Dependency) *component.Record {
	return &component.Record{
		Identifier: mustIdentifier(t, name, version),
		Recipe: component.Recipe{
			Identifier:   mustIdentifier(t, name, version),
			Dependencies: deps,
		},
	}
}

func TestConvergeStartsInDependencyOrder(t *testing.T) {
	s := New(&NoopExecutor{}, Options{Clock: clock.NewFake(time.Unix(0, 0))})

	base := newRecord(t, "Base", "1.0.0")
	dep := mustDep(t, "Base", component.DependencyHard)
	app := newRecord(t, "App", "1.0.0", dep)

	s.AddComponent(base)
	s.AddComponent(app)

	if err := s.Converge(context.Background(), []string{"App", "Base"}, nil); err != nil {
		t.Fatalf("Converge: %v", err)
	}

	if base.ObservedState != component.StateRunning {
		t.Errorf("Base state = %s, want RUNNING", base.ObservedState)
	}
	if app.ObservedState != component.StateRunning {
		t.Errorf("App state = %s, want RUNNING", app.ObservedState)
	}
}

func TestConvergeStopsInReverseDependencyOrder(t *testing.T) {
	s := New(&NoopExecutor{}, Options{Clock: clock.NewFake(time.Unix(0, 0))})

	base := newRecord(t, "Base", "1.0.0")
	dep := mustDep(t, "Base", component.DependencyHard)
	app := newRecord(t, "App", "1.0.0", dep)
	base.ObservedState = component.StateRunning
	app.ObservedState = component.StateRunning

	s.AddComponent(base)
	s.AddComponent(app)

	if err := s.Converge(context.Background(), nil, []string{"App", "Base"}); err != nil {
		t.Fatalf("Converge: %v", err)
	}

	if base.ObservedState != component.StateFinished {
		t.Errorf("Base state = %s, want FINISHED", base.ObservedState)
	}
	if app.ObservedState != component.StateFinished {
		t.Errorf("App state = %s, want FINISHED", app.ObservedState)
	}
}

func TestConvergeDetectsCycle(t *testing.T) {
	s := New(&NoopExecutor{}, Options{Clock: clock.NewFake(time.Unix(0, 0))})

	depB := mustDep(t, "B", component.DependencyHard)
	depA := mustDep(t, "A", component.DependencyHard)
	a := newRecord(t, "A", "1.0.0", depB)
	b := newRecord(t, "B", "1.0.0", depA)

	s.AddComponent(a)
	s.AddComponent(b)

	if err := s.Converge(context.Background(), []string{"A", "B"}, nil); err == nil {
		t.Fatal("Converge: want cycle error, got nil")
	}
}

func TestInstallFailureMarksErrored(t *testing.T) {
	s := New(&NoopExecutor{FailInstall: map[string]bool{"Broken": true}}, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	rec := newRecord(t, "Broken", "1.0.0")
	s.AddComponent(rec)

	if err := s.Converge(context.Background(), []string{"Broken"}, nil); err == nil {
		t.Fatal("Converge: want error from failed install, got nil")
	}
	if rec.ObservedState != component.StateErrored && rec.ObservedState != component.StateBroken {
		t.Errorf("Broken state = %s, want ERRORED or BROKEN", rec.ObservedState)
	}
}

func TestRestartBudgetExhaustionQuarantines(t *testing.T) {
	now := time.Unix(0, 0)
	budget := component.RestartBudget{Max: 0, Window: time.Minute}
	rec := newRecord(t, "Flaky", "1.0.0")
	rec.ObservedState = component.StateRunning

	fc := clock.NewFake(now)
	s := New(&NoopExecutor{}, Options{Clock: fc})
	s.AddComponent(rec)
	rec.RestartBudget = budget

	if err := s.handleExitOrError(context.Background(), rec, errFakeCrash{}); err == nil {
		t.Fatal("handleExitOrError: want error once restart budget exhausts, got nil")
	}
	if rec.ObservedState != component.StateBroken {
		t.Errorf("Flaky state = %s, want BROKEN after budget exhaustion", rec.ObservedState)
	}
}

type errFakeCrash struct{}

func (errFakeCrash) Error() string { return "simulated crash" }

// TestConvergeOverSubsetRetainingOutOfBatchHardDependency reproduces an
// upgrade of CustomerApp (HARD-depending on an already-running,
// unchanged GreenSignal): Converge is called with only CustomerApp in
// toStop/toStart, so GreenSignal never enters that batch's graph. A
// HARD dependency on a component outside the batch must count as
// already satisfied, not as an unresolvable edge.
func TestConvergeOverSubsetRetainingOutOfBatchHardDependency(t *testing.T) {
	s := New(&NoopExecutor{}, Options{Clock: clock.NewFake(time.Unix(0, 0))})

	dep := mustDep(t, "GreenSignal", component.DependencyHard)
	green := newRecord(t, "GreenSignal", "1.0.0")
	appV1 := newRecord(t, "CustomerApp", "1.0.0", dep)

	s.AddComponent(green)
	s.AddComponent(appV1)
	if err := s.Converge(context.Background(), []string{"GreenSignal", "CustomerApp"}, nil); err != nil {
		t.Fatalf("initial Converge: %v", err)
	}

	// Upgrade: stop the old CustomerApp, start the new one. GreenSignal
	// is untouched and must not appear in either batch.
	if err := s.Converge(context.Background(), nil, []string{"CustomerApp"}); err != nil {
		t.Fatalf("Converge(stop CustomerApp): %v", err)
	}
	appV2 := newRecord(t, "CustomerApp", "2.0.0", dep)
	s.AddComponent(appV2)
	if err := s.Converge(context.Background(), []string{"CustomerApp"}, nil); err != nil {
		t.Fatalf("Converge(start CustomerApp v2): %v", err)
	}

	if appV2.ObservedState != component.StateRunning {
		t.Errorf("CustomerApp v2 state = %s, want RUNNING", appV2.ObservedState)
	}
	if green.ObservedState != component.StateRunning {
		t.Errorf("GreenSignal state = %s, want still RUNNING", green.ObservedState)
	}
}
