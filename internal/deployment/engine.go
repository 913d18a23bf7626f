package deployment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/downloader"
	"github.com/fleetedge/agentcore/internal/resolver"
	"github.com/fleetedge/agentcore/internal/statecache"
	"github.com/fleetedge/agentcore/internal/supervisor"
)

// RecipeStore is what the engine needs from the recipe store: the
// resolver's version-listing contract plus an exact-identifier lookup
// to pull a resolved component's dependency/artifact list.
type RecipeStore interface {
	resolver.Store
	Get(id component.Identifier) (component.Recipe, bool)
}

// Deps wires an Engine to its collaborators.
type Deps struct {
	Resolver    *resolver.Resolver
	Supervisor  *supervisor.Supervisor
	Downloader  *downloader.Factory
	Recipes     RecipeStore
	State       statecache.Store
	Queue       *Queue // optional; nil disables durable persistence
	ArtifactRoot string // <root>/packages/artifacts
	OnStatus    func(StatusUpdate)
}

// group tracks one groupId's serialization lock and last-applied
// desired root set, used to compute the union for reconciliation
// (spec.md §4.5 step 1).
type group struct {
	mu    sync.Mutex
	roots []RootComponent
}

// Engine implements spec.md §4.5's queue → resolve → stage → converge
// → report pipeline. Cross-group reconciliation is serialized through
// a single mutex rather than the spec's disjoint-root-sets parallelism
// optimization — see DESIGN.md: this keeps the union/resolve/apply
// step trivially correct at the cost of treating independent groups as
// contended, a throughput-only simplification.
type Engine struct {
	deps Deps

	groupsMu sync.Mutex
	groups   map[string]*group

	reconcileMu sync.Mutex
	desired     map[string]component.Identifier // name -> identifier, union across all groups
}

// New builds an Engine from deps.
func New(deps Deps) *Engine {
	return &Engine{
		deps:    deps,
		groups:  make(map[string]*group),
		desired: make(map[string]component.Identifier),
	}
}

func (e *Engine) groupFor(id string) *group {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	g, ok := e.groups[id]
	if !ok {
		g = &group{}
		e.groups[id] = g
	}
	return g
}

// Run consumes Documents from src until ctx is cancelled, processing
// each with Submit. Multiple sources are composed by the caller, each
// in its own Run goroutine.
func (e *Engine) Run(ctx context.Context, src Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-src.Documents():
			if !ok {
				return
			}
			_ = e.Submit(ctx, doc)
		}
	}
}

func (e *Engine) report(update StatusUpdate) {
	if e.deps.OnStatus != nil {
		e.deps.OnStatus(update)
	}
}

// Submit processes one Document to completion: staleness check,
// reconciliation, staging, convergence, and status reporting.
func (e *Engine) Submit(ctx context.Context, doc Document) error {
	g := e.groupFor(doc.GroupID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if doc.Source != SourceLocal {
		if err := e.checkStaleness(ctx, doc); err != nil {
			return err
		}
	}
	if e.deps.State != nil {
		_ = statecache.RecordAccepted(ctx, e.deps.State, doc.GroupID, doc.Timestamp)
	}
	if e.deps.Queue != nil {
		_ = e.deps.Queue.Put(doc, StatusInProgress)
	}

	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	previousRoots := g.roots
	previousDesired := cloneIdentifiers(e.desired)

	newIdentifiers, err := e.resolve(doc)
	if err != nil {
		e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailed, DetailedStatus: "UNSATISFIABLE", FailureCause: err.Error()})
		e.reportRollbackNotRequested(doc)
		e.finish(doc)
		return err
	}

	plan := computePlan(previousDesired, newIdentifiers)

	if err := e.stageArtifacts(ctx, plan); err != nil {
		e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailed, DetailedStatus: "DOWNLOAD_FAILED", FailureCause: err.Error()})
		e.reportRollbackNotRequested(doc)
		e.finish(doc)
		return err
	}

	rootNames := make(map[string]struct{}, len(doc.Roots))
	for _, r := range doc.Roots {
		rootNames[r.Name] = struct{}{}
	}

	if err := e.applyPlan(ctx, plan, rootNames); err != nil {
		e.handleApplyFailure(ctx, doc, plan, previousRoots, previousDesired, err)
		e.finish(doc)
		return err
	}

	g.roots = doc.Roots
	e.desired = newIdentifiers
	e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusSucceeded})
	e.finish(doc)
	return nil
}

func (e *Engine) finish(doc Document) {
	if e.deps.Queue != nil {
		_ = e.deps.Queue.Remove(doc.ID)
	}
}

func (e *Engine) reportRollbackNotRequested(doc Document) {
	if doc.FailurePolicy == Rollback {
		e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailedRollbackNotRequested})
	}
}

func (e *Engine) checkStaleness(ctx context.Context, doc Document) error {
	if e.deps.State == nil {
		return nil
	}
	last, err := statecache.LastAccepted(ctx, e.deps.State, doc.GroupID)
	if err != nil {
		return fmt.Errorf("deployment: read last accepted: %w", err)
	}
	if doc.Timestamp <= last {
		return &StaleDeploymentError{GroupID: doc.GroupID, Timestamp: doc.Timestamp, LastAcceptedAt: last}
	}
	return nil
}

func cloneIdentifiers(m map[string]component.Identifier) map[string]component.Identifier {
	out := make(map[string]component.Identifier, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// resolve runs the dependency resolver over the union of every
// currently-active group's root set plus doc's, per spec.md §4.5 step 1.
func (e *Engine) resolve(doc Document) (map[string]component.Identifier, error) {
	roots := make(map[string]RootComponent)
	e.groupsMu.Lock()
	for id, other := range e.groups {
		if id == doc.GroupID {
			continue
		}
		for _, r := range other.roots {
			roots[r.Name] = r
		}
	}
	e.groupsMu.Unlock()
	for _, r := range doc.Roots {
		roots[r.Name] = r
	}

	reqs := make([]resolver.RootRequest, 0, len(roots))
	for _, r := range roots {
		constraint, err := semver.NewConstraint(r.Constraint)
		if err != nil {
			return nil, fmt.Errorf("deployment: invalid constraint %q for %s: %w", r.Constraint, r.Name, err)
		}
		reqs = append(reqs, resolver.RootRequest{Name: r.Name, Constraint: constraint})
	}

	installed := make(map[string]component.Identifier)
	for _, snap := range e.deps.Supervisor.Snapshot() {
		if snap.ObservedState == component.StateRunning || snap.ObservedState == component.StateInstalled {
			installed[snap.Identifier.Name] = snap.Identifier
		}
	}

	identifiers, err := e.deps.Resolver.Resolve(reqs, installed)
	if err != nil {
		return nil, err
	}

	out := make(map[string]component.Identifier, len(identifiers))
	for _, id := range identifiers {
		out[id.Name] = id
	}
	return out, nil
}

// plan is the three-set reconciliation output of spec.md §4.5 step 3.
type plan struct {
	toInstall []component.Identifier
	toUpgrade []upgradePair
	toRemove  []component.Identifier // the OLD identifier being removed
}

type upgradePair struct {
	old component.Identifier
	new component.Identifier
}

func computePlan(previous, next map[string]component.Identifier) plan {
	var p plan
	for name, newID := range next {
		oldID, existed := previous[name]
		switch {
		case !existed:
			p.toInstall = append(p.toInstall, newID)
		case !oldID.Equal(newID):
			p.toUpgrade = append(p.toUpgrade, upgradePair{old: oldID, new: newID})
		}
	}
	for name, oldID := range previous {
		if _, stillDesired := next[name]; !stillDesired {
			p.toRemove = append(p.toRemove, oldID)
		}
	}
	return p
}

func (e *Engine) stageArtifacts(ctx context.Context, p plan) error {
	var toStage []component.Identifier
	toStage = append(toStage, p.toInstall...)
	for _, u := range p.toUpgrade {
		toStage = append(toStage, u.new)
	}

	for _, id := range toStage {
		recipe, ok := e.deps.Recipes.Get(id)
		if !ok {
			return fmt.Errorf("deployment: no recipe for %s", id)
		}
		for _, artifact := range recipe.Artifacts {
			variant, err := e.deps.Downloader.For(artifact.URI)
			if err != nil {
				return err
			}
			path := e.artifactPath(id, artifact)
			required, err := variant.DownloadRequired(ctx, id, artifact, path)
			if err != nil {
				return err
			}
			if !required {
				continue
			}
			if err := variant.Download(ctx, id, artifact, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) artifactPath(id component.Identifier, artifact component.ArtifactRef) string {
	return filepath.Join(e.deps.ArtifactRoot, id.Name, id.Version.String(), filepath.Base(artifact.URI))
}

// applyPlan drives the supervisor per spec.md §4.5 step 3's ordering:
// upgrades stop their old version first (two Converge calls bound an
// observed FINISHED between stop and start), then new installs start
// together with departing components' stop+removal.
func (e *Engine) applyPlan(ctx context.Context, p plan, rootNames map[string]struct{}) error {
	if len(p.toUpgrade) > 0 {
		var stopOld []string
		for _, u := range p.toUpgrade {
			stopOld = append(stopOld, u.old.Name)
		}
		if err := e.deps.Supervisor.Converge(ctx, nil, stopOld); err != nil {
			return err
		}
	}

	for _, id := range p.toInstall {
		if err := e.addRecord(id, rootNames); err != nil {
			return err
		}
	}
	for _, u := range p.toUpgrade {
		if err := e.addRecord(u.new, rootNames); err != nil {
			return err
		}
	}

	var toStart []string
	for _, id := range p.toInstall {
		toStart = append(toStart, id.Name)
	}
	for _, u := range p.toUpgrade {
		toStart = append(toStart, u.new.Name)
	}

	var toStop []string
	for _, id := range p.toRemove {
		toStop = append(toStop, id.Name)
	}

	if err := e.deps.Supervisor.Converge(ctx, toStart, toStop); err != nil {
		return err
	}

	for _, id := range p.toRemove {
		e.deps.Supervisor.RemoveComponent(id.Name)
	}
	return nil
}

func (e *Engine) addRecord(id component.Identifier, rootNames map[string]struct{}) error {
	recipe, ok := e.deps.Recipes.Get(id)
	if !ok {
		return fmt.Errorf("deployment: no recipe for %s", id)
	}
	_, isRoot := rootNames[id.Name]
	e.deps.Supervisor.AddComponent(&component.Record{
		Identifier:   id,
		Recipe:       recipe,
		DesiredState: component.StateRunning,
		Root:         isRoot,
	})
	return nil
}

// handleApplyFailure implements spec.md §4.5's two failurePolicy
// branches once convergence has failed partway through.
func (e *Engine) handleApplyFailure(ctx context.Context, doc Document, p plan, previousRoots []RootComponent, previousDesired map[string]component.Identifier, cause error) {
	if doc.FailurePolicy == DoNothing {
		e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailed, DetailedStatus: "CONVERGE_FAILED", FailureCause: cause.Error()})
		return
	}

	inverse := plan{toInstall: p.toRemove, toRemove: p.toInstall}
	for _, u := range p.toUpgrade {
		inverse.toUpgrade = append(inverse.toUpgrade, upgradePair{old: u.new, new: u.old})
	}

	rootNames := make(map[string]struct{}, len(previousRoots))
	for _, r := range previousRoots {
		rootNames[r.Name] = struct{}{}
	}

	if err := e.applyPlan(ctx, inverse, rootNames); err != nil {
		e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailed, DetailedStatus: "ROLLBACK_FAILED", FailureCause: err.Error()})
		return
	}

	g := e.groupFor(doc.GroupID)
	g.roots = previousRoots
	e.desired = previousDesired
	e.report(StatusUpdate{DeploymentID: doc.ID, GroupID: doc.GroupID, Source: doc.Source, Status: StatusFailedRollbackComplete, FailureCause: cause.Error()})
}
