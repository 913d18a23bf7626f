package fleetstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fleetedge/agentcore/internal/deployment"
	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/pkg/clock"
	"github.com/fleetedge/agentcore/internal/statecache"
	"github.com/fleetedge/agentcore/internal/supervisor"
)

// Publisher is the slice of *mqttmux.Multiplexer the reporter needs:
// publish plus the aggregate online/offline signal. A narrow interface
// here, rather than the concrete type, keeps the reporter's connect/
// disconnect/backlog logic unit-testable without a real broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	AddConnectionListener(onInterrupt, onResume func())
}

const (
	defaultCadence = 24 * time.Hour
	minCadence     = 1 * time.Hour
	brokenPollRate = 2 * time.Second

	statePendingReconnectKey = "fleetstatus:pending_reconnect"
	stateNextCadenceKey      = "fleetstatus:next_cadence_unix"
)

// Deps wires a Reporter to its collaborators.
type Deps struct {
	Mux        Publisher
	Supervisor *supervisor.Supervisor
	State      statecache.Store // optional; nil disables restart-survives bookkeeping
	Clock      clock.Clock      // optional; defaults to clock.Real
	Thing      string
	Topic      string
	GGCVersion string
	// Cadence is the periodic publish interval; zero defaults to 24h,
	// and any non-zero value under 1h is raised to the 1h floor.
	Cadence       time.Duration
	MaxChunkBytes int // zero defaults to 128 KiB
}

// Reporter implements spec.md §4.6's trigger aggregation and chunked
// publishing over Deps.Mux.
type Reporter struct {
	deps Deps

	mu                   sync.Mutex
	online               bool
	pendingReconnect     bool
	deploymentInProgress bool
	cadenceDeferred      bool
	outbox               []Payload
	lastBroken           map[string]struct{}
}

// New builds a Reporter and registers it against deps.Mux's connection
// listener. Restart-surviving state (a pending RECONNECT from before
// the process died) is recovered from deps.State, if set.
func New(ctx context.Context, deps Deps) *Reporter {
	if deps.Clock == nil {
		deps.Clock = clock.Real
	}
	if deps.Cadence == 0 {
		deps.Cadence = defaultCadence
	}
	if deps.Cadence < minCadence {
		deps.Cadence = minCadence
	}
	if deps.MaxChunkBytes == 0 {
		deps.MaxChunkBytes = defaultMaxPayloadBytes
	}

	r := &Reporter{deps: deps, lastBroken: make(map[string]struct{})}

	if deps.State != nil {
		if v, ok, _ := deps.State.GetInt64(ctx, statePendingReconnectKey); ok {
			r.pendingReconnect = v != 0
		}
	}

	deps.Mux.AddConnectionListener(r.onInterrupt, r.onResume)
	return r
}

// Run drives the periodic cadence publish and the BROKEN_COMPONENT
// poll loop until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.runCadence(ctx) }()
	go func() { defer wg.Done(); r.runBrokenPoll(ctx) }()
	wg.Wait()
}

// BeginDeployment suppresses CADENCE publishes until EndDeployment,
// per spec.md §4.6's cadence-coherence rule.
func (r *Reporter) BeginDeployment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deploymentInProgress = true
}

// EndDeployment lifts CADENCE suppression, firing immediately if a tick
// was deferred during the deployment.
func (r *Reporter) EndDeployment() {
	r.mu.Lock()
	r.deploymentInProgress = false
	deferred := r.cadenceDeferred
	r.cadenceDeferred = false
	r.mu.Unlock()
	if deferred {
		r.fireCadence(context.Background())
	}
}

// ReportDeploymentStatus is the engine's deployment.Deps.OnStatus hook:
// it publishes a THING_GROUP_DEPLOYMENT report once a cloud-job
// deployment reaches a terminal state, and a LOCAL_DEPLOYMENT report for
// a local one (spec.md §4.6: "LOCAL_DEPLOYMENT — idem for local"). Only
// the cloud-job *ack* back to IoT Jobs is source-gated, not this fleet
// status publish.
func (r *Reporter) ReportDeploymentStatus(update deployment.StatusUpdate) {
	trigger := TriggerDeployment
	if update.Source == deployment.SourceLocal {
		trigger = TriggerLocal
	}
	info := &DeploymentInformation{
		DeploymentID:   update.DeploymentID,
		Status:         string(update.Status),
		DetailedStatus: update.DetailedStatus,
		FailureCause:   update.FailureCause,
	}
	r.publishFull(context.Background(), trigger, info, true)
}

func (r *Reporter) runCadence(ctx context.Context) {
	timer := r.deps.Clock.NewTimer(r.deps.Cadence)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			r.mu.Lock()
			if r.deploymentInProgress {
				r.cadenceDeferred = true
				r.mu.Unlock()
				timer.Reset(r.deps.Cadence)
				continue
			}
			r.mu.Unlock()
			r.fireCadence(ctx)
			timer.Reset(r.deps.Cadence)
		}
	}
}

func (r *Reporter) fireCadence(ctx context.Context) {
	r.publishFull(ctx, TriggerCadence, nil, false)
	if r.deps.State != nil {
		next := r.deps.Clock.Now().Add(r.deps.Cadence).Unix()
		_ = r.deps.State.SetInt64(ctx, stateNextCadenceKey, next)
	}
}

func (r *Reporter) runBrokenPoll(ctx context.Context) {
	ticker := r.deps.Clock.NewTimer(brokenPollRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.pollBroken(ctx)
			ticker.Reset(brokenPollRate)
		}
	}
}

func (r *Reporter) pollBroken(ctx context.Context) {
	r.mu.Lock()
	suppressed := r.deploymentInProgress
	r.mu.Unlock()
	if suppressed {
		return
	}

	for _, snap := range r.deps.Supervisor.Snapshot() {
		name := snap.Identifier.Name
		r.mu.Lock()
		_, known := r.lastBroken[name]
		r.mu.Unlock()

		if snap.ObservedState == component.StateBroken {
			if known {
				continue
			}
			r.mu.Lock()
			r.lastBroken[name] = struct{}{}
			r.mu.Unlock()
			r.reportBroken(ctx, snap)
			continue
		}
		if known {
			r.mu.Lock()
			delete(r.lastBroken, name)
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) reportBroken(ctx context.Context, snap component.Snapshot) {
	payload := Payload{
		GGCVersion:    r.deps.GGCVersion,
		Thing:         r.deps.Thing,
		OverallStatus: StatusUnhealthy,
		Trigger:       TriggerBroken,
		ComponentDetails: []ComponentDetail{{
			Name:    snap.Identifier.Name,
			Version: versionString(snap.Identifier),
			State:   string(snap.ObservedState),
		}},
	}
	r.deliver(ctx, payload, false, false)
}

func (r *Reporter) publishFull(ctx context.Context, trigger Trigger, info *DeploymentInformation, queueIfOffline bool) {
	details, status := r.snapshotDetails()
	payload := Payload{
		GGCVersion:            r.deps.GGCVersion,
		Thing:                 r.deps.Thing,
		OverallStatus:         status,
		Trigger:               trigger,
		DeploymentInformation: info,
		ComponentDetails:      details,
	}
	r.deliver(ctx, payload, true, queueIfOffline)
}

func (r *Reporter) snapshotDetails() ([]ComponentDetail, OverallStatus) {
	snaps := r.deps.Supervisor.Snapshot()
	details := make([]ComponentDetail, 0, len(snaps))
	status := StatusHealthy
	for _, s := range snaps {
		details = append(details, ComponentDetail{
			Name:    s.Identifier.Name,
			Version: versionString(s.Identifier),
			State:   string(s.ObservedState),
		})
		if s.ObservedState.Unhealthy() {
			status = StatusUnhealthy
		}
	}
	return details, status
}

func versionString(id component.Identifier) string {
	if id.Version == nil {
		return ""
	}
	return id.Version.String()
}

// deliver chunks payload and either publishes it immediately (online)
// or, when offline, queues it only if queueIfOffline (deployment
// completions are held in the in-memory outbox and published on the
// next resume; the outbox is not persisted, so queued completions do
// not survive a process restart. BROKEN_COMPONENT and CADENCE are
// simply skipped while the multiplexer is down, per §4.6's
// cadence-coherence rule).
func (r *Reporter) deliver(ctx context.Context, payload Payload, fullReport, queueIfOffline bool) {
	chunks := chunkPayload(payload, fullReport, r.deps.MaxChunkBytes)

	r.mu.Lock()
	online := r.online
	r.mu.Unlock()

	if !online {
		if queueIfOffline {
			r.mu.Lock()
			r.outbox = append(r.outbox, chunks...)
			r.mu.Unlock()
		}
		return
	}

	for _, c := range chunks {
		if err := r.publishOne(ctx, c); err != nil && queueIfOffline {
			r.mu.Lock()
			r.outbox = append(r.outbox, c)
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) publishOne(ctx context.Context, payload Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fleetstatus: marshal payload: %w", err)
	}
	return r.deps.Mux.Publish(ctx, r.deps.Topic, raw, 1)
}

func (r *Reporter) onInterrupt() {
	r.mu.Lock()
	r.online = false
	r.pendingReconnect = true
	r.mu.Unlock()
	if r.deps.State != nil {
		_ = r.deps.State.SetInt64(context.Background(), statePendingReconnectKey, 1)
	}
}

// onResume flushes any backlog accumulated while offline, then — if a
// reconnect is still pending (spec.md §4.6: at most one pending
// RECONNECT trigger) — publishes a single full RECONNECT report.
func (r *Reporter) onResume() {
	r.mu.Lock()
	r.online = true
	pending := r.outbox
	r.outbox = nil
	shouldReconnect := r.pendingReconnect
	r.pendingReconnect = false
	r.mu.Unlock()

	ctx := context.Background()
	if r.deps.State != nil {
		_ = r.deps.State.SetInt64(ctx, statePendingReconnectKey, 0)
	}

	for _, c := range pending {
		if err := r.publishOne(ctx, c); err != nil {
			r.mu.Lock()
			r.outbox = append(r.outbox, c)
			r.pendingReconnect = true
			r.mu.Unlock()
			if r.deps.State != nil {
				_ = r.deps.State.SetInt64(ctx, statePendingReconnectKey, 1)
			}
		}
	}

	if shouldReconnect {
		r.publishFull(ctx, TriggerReconnect, nil, false)
	}
}
