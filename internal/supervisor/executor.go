package supervisor

import (
	"context"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// Callbacks is the surface a component's control goroutine hands to the
// Executor for one hook invocation, so the executor can report events
// back without the supervisor caring whether execution is in-process, a
// subprocess, or a managed service.
type Callbacks struct {
	OnStarted func(pid int)
	OnStdout  func(line string)
	OnStderr  func(line string)
	OnExit    func(code int)
	// OnBroken reports an authoritative BROKEN signal independent of a
	// hook's own exit code (e.g. the hosting process was killed without
	// a request from the supervisor).
	OnBroken func()
}

// Executor runs a component's lifecycle hooks. The supervisor only
// requires the signals in Callbacks; it never inspects how a hook is
// actually hosted.
type Executor interface {
	// RunInstall executes rec.Recipe.Hooks.Install to completion and
	// returns its result; install hooks are expected to exit, not run.
	RunInstall(ctx context.Context, rec *component.Record) error

	// RunStart launches rec.Recipe.Hooks.Run. It must call cb.OnStarted
	// once the process/service is live and cb.OnExit when it terminates;
	// RunStart itself returns as soon as the hook has been launched, not
	// when it exits.
	RunStart(ctx context.Context, rec *component.Record, cb Callbacks) error

	// RequestStop asks a running component to exit gracefully (runs
	// rec.Recipe.Hooks.Shutdown if set).
	RequestStop(ctx context.Context, rec *component.Record) error

	// RequestTerminate forcibly ends a component that did not honor
	// RequestStop within its grace period.
	RequestTerminate(ctx context.Context, rec *component.Record) error
}

// NoopExecutor is a test double: every hook "runs" synchronously and
// succeeds immediately. Concrete adapters (host-process, container) are
// out of scope; this is the reference shape for writing one.
type NoopExecutor struct {
	// FailInstall, when set, names components whose install hook should
	// report failure instead of succeeding.
	FailInstall map[string]bool
}

func (e *NoopExecutor) RunInstall(ctx context.Context, rec *component.Record) error {
	if e.FailInstall[rec.Identifier.Name] {
		return errInstallFailed{name: rec.Identifier.Name}
	}
	return nil
}

func (e *NoopExecutor) RunStart(ctx context.Context, rec *component.Record, cb Callbacks) error {
	if cb.OnStarted != nil {
		cb.OnStarted(0)
	}
	return nil
}

func (e *NoopExecutor) RequestStop(ctx context.Context, rec *component.Record) error {
	return nil
}

func (e *NoopExecutor) RequestTerminate(ctx context.Context, rec *component.Record) error {
	return nil
}

type errInstallFailed struct{ name string }

func (e errInstallFailed) Error() string { return "install hook failed for " + e.name }
