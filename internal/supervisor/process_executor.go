package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// ProcessExecutor runs lifecycle hooks as host subprocesses through
// os/exec, grounded on the teacher's rclone sync strategy
// (internal/infrastructure/sync/rclone.go): CommandContext, piped
// stdout/stderr scanned line-by-line in a background goroutine, and
// cmd.Wait for completion. Unlike rclone's one-shot transfers, RunStart
// launches a long-lived process and returns once it's live, reporting
// its exit asynchronously via Callbacks.
type ProcessExecutor struct {
	// WorkDir roots every hook's working directory at
	// <WorkDir>/<component-name>/<version>. Created on first use.
	WorkDir string
	// ShutdownGrace bounds how long RequestStop waits for the shutdown
	// hook (if any) before the caller should escalate to
	// RequestTerminate.
	ShutdownGrace time.Duration

	mu    sync.Mutex
	procs map[string]*os.Process
}

var _ Executor = (*ProcessExecutor)(nil)

func (e *ProcessExecutor) componentDir(rec *component.Record) string {
	return filepath.Join(e.WorkDir, rec.Identifier.Name, rec.Identifier.String())
}

// RunInstall runs rec.Recipe.Hooks.Install to completion, if set.
func (e *ProcessExecutor) RunInstall(ctx context.Context, rec *component.Record) error {
	if rec.Recipe.Hooks.Install == "" {
		return nil
	}
	dir := e.componentDir(rec)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create work dir for %s: %w", rec.Identifier, err)
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", rec.Recipe.Hooks.Install)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("supervisor: install hook for %s: %w: %s", rec.Identifier, err, out)
	}
	return nil
}

// RunStart launches rec.Recipe.Hooks.Run and returns once it is live.
// Its stdout/stderr are scanned line-by-line in background goroutines;
// its exit is reported via cb.OnExit from a third goroutine.
func (e *ProcessExecutor) RunStart(ctx context.Context, rec *component.Record, cb Callbacks) error {
	if rec.Recipe.Hooks.Run == "" {
		if cb.OnStarted != nil {
			cb.OnStarted(0)
		}
		return nil
	}
	dir := e.componentDir(rec)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create work dir for %s: %w", rec.Identifier, err)
	}

	cmd := exec.Command("/bin/sh", "-c", rec.Recipe.Hooks.Run)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdout pipe for %s: %w", rec.Identifier, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stderr pipe for %s: %w", rec.Identifier, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start run hook for %s: %w", rec.Identifier, err)
	}

	e.mu.Lock()
	if e.procs == nil {
		e.procs = make(map[string]*os.Process)
	}
	e.procs[rec.Identifier.Name] = cmd.Process
	e.mu.Unlock()

	if cb.OnStdout != nil {
		go scanLines(stdout, cb.OnStdout)
	} else {
		go io.Copy(io.Discard, stdout)
	}
	if cb.OnStderr != nil {
		go scanLines(stderr, cb.OnStderr)
	} else {
		go io.Copy(io.Discard, stderr)
	}

	if cb.OnStarted != nil {
		cb.OnStarted(cmd.Process.Pid)
	}

	go func() {
		err := cmd.Wait()
		e.mu.Lock()
		delete(e.procs, rec.Identifier.Name)
		e.mu.Unlock()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		if cb.OnExit != nil {
			cb.OnExit(code)
		}
	}()

	return nil
}

func scanLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}

// RequestStop runs rec.Recipe.Hooks.Shutdown if set, otherwise sends
// SIGTERM directly to the tracked process.
func (e *ProcessExecutor) RequestStop(ctx context.Context, rec *component.Record) error {
	if rec.Recipe.Hooks.Shutdown != "" {
		if e.ShutdownGrace > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.ShutdownGrace)
			defer cancel()
		}
		dir := e.componentDir(rec)
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", rec.Recipe.Hooks.Shutdown)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("supervisor: shutdown hook for %s: %w: %s", rec.Identifier, err, out)
		}
		return nil
	}

	e.mu.Lock()
	proc := e.procs[rec.Identifier.Name]
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Signal(syscall.SIGTERM)
}

// RequestTerminate forcibly kills the tracked process, for components
// that outlived RequestStop's grace period.
func (e *ProcessExecutor) RequestTerminate(ctx context.Context, rec *component.Record) error {
	e.mu.Lock()
	proc := e.procs[rec.Identifier.Name]
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}
