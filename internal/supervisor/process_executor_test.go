package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

func testRecord(t *testing.T, name, version string, hooks component.Hooks) *component.Record {
	t.Helper()
	id, err := component.NewIdentifier(name, version)
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}
	return &component.Record{Identifier: id, Recipe: component.Recipe{Identifier: id, Hooks: hooks}}
}

func TestRunInstallSucceedsAndFails(t *testing.T) {
	e := &ProcessExecutor{WorkDir: t.TempDir()}
	rec := testRecord(t, "app", "1.0.0", component.Hooks{Install: "exit 0"})
	if err := e.RunInstall(context.Background(), rec); err != nil {
		t.Fatalf("RunInstall: %v", err)
	}

	failing := testRecord(t, "broken", "1.0.0", component.Hooks{Install: "exit 1"})
	if err := e.RunInstall(context.Background(), failing); err == nil {
		t.Fatal("expected RunInstall to report the nonzero exit")
	}
}

func TestRunStartReportsLinesAndExit(t *testing.T) {
	e := &ProcessExecutor{WorkDir: t.TempDir()}
	rec := testRecord(t, "app", "1.0.0", component.Hooks{Run: "echo hello; echo world 1>&2; sleep 0.05; exit 3"})

	var mu sync.Mutex
	var stdoutLines, stderrLines []string
	started := make(chan int, 1)
	exited := make(chan int, 1)

	cb := Callbacks{
		OnStarted: func(pid int) { started <- pid },
		OnStdout: func(line string) {
			mu.Lock()
			stdoutLines = append(stdoutLines, line)
			mu.Unlock()
		},
		OnStderr: func(line string) {
			mu.Lock()
			stderrLines = append(stderrLines, line)
			mu.Unlock()
		},
		OnExit: func(code int) { exited <- code },
	}

	if err := e.RunStart(context.Background(), rec, cb); err != nil {
		t.Fatalf("RunStart: %v", err)
	}

	select {
	case pid := <-started:
		if pid <= 0 {
			t.Errorf("OnStarted pid = %d, want > 0", pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnStarted")
	}

	select {
	case code := <-exited:
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnExit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stdoutLines) != 1 || stdoutLines[0] != "hello" {
		t.Errorf("stdoutLines = %v, want [hello]", stdoutLines)
	}
	if len(stderrLines) != 1 || stderrLines[0] != "world" {
		t.Errorf("stderrLines = %v, want [world]", stderrLines)
	}
}

func TestRequestStopRunsShutdownHook(t *testing.T) {
	e := &ProcessExecutor{WorkDir: t.TempDir()}
	rec := testRecord(t, "app", "1.0.0", component.Hooks{Shutdown: "exit 0"})
	if err := e.RequestStop(context.Background(), rec); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
}

func TestRequestStopSignalsTrackedProcessWhenNoHook(t *testing.T) {
	e := &ProcessExecutor{WorkDir: t.TempDir()}
	rec := testRecord(t, "app", "1.0.0", component.Hooks{Run: "trap 'exit 7' TERM; sleep 5"})

	exited := make(chan int, 1)
	cb := Callbacks{OnExit: func(code int) { exited <- code }}
	if err := e.RunStart(context.Background(), rec, cb); err != nil {
		t.Fatalf("RunStart: %v", err)
	}

	if err := e.RequestStop(context.Background(), rec); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}

	select {
	case code := <-exited:
		if code != 7 {
			t.Errorf("exit code = %d, want 7 (trapped SIGTERM)", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the process to exit after SIGTERM")
	}
}
