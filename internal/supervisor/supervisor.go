// Package supervisor drives the per-component lifecycle state machine
// of spec.md §4.4: install/run/shutdown hooks via an Executor,
// dependency-ordered start/stop, and a rolling restart budget that
// quarantines a component to BROKEN once exhausted.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/pkg/clock"
)

const (
	defaultStartupTimeout  = 30 * time.Second
	defaultShutdownGrace   = 30 * time.Second
	defaultTerminateWindow = 5 * time.Second
)

// Options configures the supervisor's hook timeouts; zero values fall
// back to the package defaults. Only StartupTimeout is enforced:
// ShutdownGrace and TerminateWindow are stored but no timer reads them
// (see stopOne).
type Options struct {
	StartupTimeout  time.Duration
	ShutdownGrace   time.Duration
	TerminateWindow time.Duration
	Clock           clock.Clock
}

// Supervisor owns every ComponentRecord known to the agent and is the
// only mutator of their state; callers (the deployment engine) submit
// desired-state changes via Converge and observe immutable Snapshots.
type Supervisor struct {
	mu       sync.Mutex
	records  map[string]*component.Record
	executor Executor
	clock    clock.Clock
	opts     Options
}

// New creates a Supervisor driving hooks through executor.
func New(executor Executor, opts Options) *Supervisor {
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.TerminateWindow == 0 {
		opts.TerminateWindow = defaultTerminateWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	return &Supervisor{
		records:  make(map[string]*component.Record),
		executor: executor,
		clock:    opts.Clock,
		opts:     opts,
	}
}

// AddComponent registers or replaces the record for a component by
// name. It is the caller's responsibility to have resolved recipe
// dependencies before calling Converge.
func (s *Supervisor) AddComponent(rec *component.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ObservedState == "" {
		rec.ObservedState = component.StateNew
	}
	if rec.RestartBudget.Max == 0 {
		rec.RestartBudget = component.DefaultRestartBudget()
	}
	s.records[rec.Identifier.Name] = rec
}

// Record returns the current record for name, if known.
func (s *Supervisor) Record(name string) (*component.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	return r, ok
}

// Snapshot returns an immutable view of every known component.
func (s *Supervisor) Snapshot() []component.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]component.Snapshot, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Snapshot())
	}
	return out
}

// RemoveComponent drops a record once it is unowned and terminal (the
// caller, typically the deployment engine, is responsible for checking
// component.Record.Owned before calling this).
func (s *Supervisor) RemoveComponent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
}

func (s *Supervisor) buildGraph(names []string) *graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := newGraph()
	for _, name := range names {
		if r, ok := s.records[name]; ok {
			g.addRecord(r)
		}
	}
	return g
}

// Converge drives every record named in toStart to RUNNING (in
// dependency order, installing first if needed) and every record named
// in toStop to FINISHED (in reverse dependency order), per spec.md
// §4.4's "start order is reverse topological, stop order is forward
// topological" rule and the "toUpgrade is stop-then-replace" rule left
// to the caller (it should pass an old version in toStop and the new
// one in toStart across two Converge calls so FINISHED is observed
// before the replacement starts).
func (s *Supervisor) Converge(ctx context.Context, toStart, toStop []string) error {
	if len(toStop) > 0 {
		g := s.buildGraph(toStop)
		levels, err := g.stopLevels()
		if err != nil {
			return err
		}
		if err := s.runLevels(ctx, levels, s.stopOne); err != nil {
			return err
		}
	}
	if len(toStart) > 0 {
		g := s.buildGraph(toStart)
		levels, err := g.startLevels()
		if err != nil {
			return err
		}
		if err := s.runLevels(ctx, levels, s.startOne); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) runLevels(ctx context.Context, levels [][]*component.Record, step func(context.Context, *component.Record) error) error {
	for _, level := range levels {
		var wg sync.WaitGroup
		errs := make([]error, len(level))
		for i, rec := range level {
			wg.Add(1)
			go func(i int, rec *component.Record) {
				defer wg.Done()
				errs[i] = step(ctx, rec)
			}(i, rec)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Supervisor) setState(rec *component.Record, state component.State) {
	s.mu.Lock()
	rec.ObservedState = state
	rec.LastTransitionAt = s.clock.Now()
	s.mu.Unlock()
}

// startOne drives rec from its current state to RUNNING, installing
// first if necessary.
func (s *Supervisor) startOne(ctx context.Context, rec *component.Record) error {
	if rec.ObservedState == component.StateNew {
		if err := s.install(ctx, rec); err != nil {
			return err
		}
	}
	if rec.ObservedState == component.StateRunning {
		return nil
	}
	return s.start(ctx, rec)
}

func (s *Supervisor) install(ctx context.Context, rec *component.Record) error {
	s.setState(rec, component.StateInstalling)
	if err := s.executor.RunInstall(ctx, rec); err != nil {
		s.setState(rec, component.StateErrored)
		rec.StatusDetails = component.StatusDetails{
			DetailedStatus: "INSTALL_FAILED",
			FailureCause:   err.Error(),
		}
		return fmt.Errorf("supervisor: install %s: %w", rec.Identifier, err)
	}
	s.setState(rec, component.StateInstalled)
	return nil
}

func (s *Supervisor) start(ctx context.Context, rec *component.Record) error {
	s.setState(rec, component.StateStarting)

	started := make(chan struct{}, 1)
	exited := make(chan int, 1)
	broken := make(chan struct{}, 1)
	cb := Callbacks{
		OnStarted: func(int) { nonBlockingSend(started) },
		OnExit:    func(code int) { nonBlockingSendInt(exited, code) },
		OnBroken:  func() { nonBlockingSend(broken) },
	}

	if err := s.executor.RunStart(ctx, rec, cb); err != nil {
		return s.handleExitOrError(ctx, rec, err)
	}

	timer := s.clock.NewTimer(s.opts.StartupTimeout)
	defer timer.Stop()
	select {
	case <-started:
		s.setState(rec, component.StateRunning)
		go s.watch(rec, exited, broken)
		return nil
	case code := <-exited:
		return s.handleExitOrError(ctx, rec, fmt.Errorf("exited with code %d before reporting started", code))
	case <-broken:
		s.quarantine(rec)
		return fmt.Errorf("supervisor: %s reported BROKEN during startup", rec.Identifier)
	case <-timer.C():
		return s.handleExitOrError(ctx, rec, fmt.Errorf("startup timeout after %s", s.opts.StartupTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch runs for the lifetime of a RUNNING component, reacting to an
// unsolicited exit or an authoritative BROKEN signal from the
// executor. It terminates once the component leaves RUNNING through
// stopOne's own bookkeeping (rec.ObservedState is read, not raced,
// since only this goroutine and the control path touch a record after
// RUNNING is reached).
func (s *Supervisor) watch(rec *component.Record, exited chan int, broken chan struct{}) {
	select {
	case code := <-exited:
		s.mu.Lock()
		stopping := rec.ObservedState == component.StateStopping
		s.mu.Unlock()
		if stopping {
			s.setState(rec, component.StateFinished)
			return
		}
		if code == 0 {
			s.setState(rec, component.StateFinished)
			return
		}
		s.handleExitOrError(context.Background(), rec, fmt.Errorf("exited with code %d", code))
	case <-broken:
		s.quarantine(rec)
	}
}

// handleExitOrError applies the restart budget: within budget, the
// component is marked ERRORED and the caller (Converge, or watch for an
// already-running component) may retry; once exhausted it is
// quarantined to BROKEN. Its dependents are left as they are here (see
// quarantine).
func (s *Supervisor) handleExitOrError(ctx context.Context, rec *component.Record, cause error) error {
	s.setState(rec, component.StateErrored)
	rec.StatusDetails = component.StatusDetails{
		DetailedStatus: "RUN_FAILED",
		FailureCause:   cause.Error(),
	}
	now := s.clock.Now()
	if rec.RestartBudget.Exhausted(now) {
		s.quarantine(rec)
		return fmt.Errorf("supervisor: %s exhausted restart budget: %w", rec.Identifier, cause)
	}
	rec.RestartBudget.RecordRestart(now)
	return s.start(ctx, rec)
}

// quarantine marks rec BROKEN. Demoting dependents to INSTALLED is the
// deployment engine's responsibility (it owns the desired-state graph
// across groups); the supervisor only guarantees the record it reports
// BROKEN never silently restarts again.
func (s *Supervisor) quarantine(rec *component.Record) {
	s.setState(rec, component.StateBroken)
	rec.StatusDetails = component.StatusDetails{
		DetailedStatus: "RESTART_BUDGET_EXHAUSTED",
		FailureCause:   "component exceeded its rolling restart budget",
	}
}

// stopOne drives rec from RUNNING to FINISHED. It marks FINISHED as
// soon as RequestStop returns nil, without waiting for the executor's
// own exit notification. If RequestStop returns an error it escalates
// through terminateOrBreak, which quarantines rec to BROKEN when
// RequestTerminate also fails. No grace or terminate timer is applied:
// a RequestStop that returns nil while the process keeps running still
// yields FINISHED.
func (s *Supervisor) stopOne(ctx context.Context, rec *component.Record) error {
	if rec.ObservedState != component.StateRunning && rec.ObservedState != component.StateErrored {
		return nil
	}
	s.setState(rec, component.StateStopping)
	if err := s.executor.RequestStop(ctx, rec); err != nil {
		return s.terminateOrBreak(ctx, rec, err)
	}
	// The watch goroutine from start() also observes this exit via
	// OnExit and sees ObservedState == STOPPING, so it no-ops here.
	s.setState(rec, component.StateFinished)
	return nil
}

func (s *Supervisor) terminateOrBreak(ctx context.Context, rec *component.Record, cause error) error {
	if err := s.executor.RequestTerminate(ctx, rec); err != nil {
		s.quarantine(rec)
		return fmt.Errorf("supervisor: %s failed to terminate after %v: %w", rec.Identifier, cause, err)
	}
	s.quarantine(rec)
	return fmt.Errorf("supervisor: %s required forced termination: %w", rec.Identifier, cause)
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func nonBlockingSendInt(ch chan int, v int) {
	select {
	case ch <- v:
	default:
	}
}
