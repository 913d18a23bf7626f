// Package deployment implements the reconciliation engine of spec.md
// §4.5: ingest deployment documents per group, resolve the desired
// component set, stage artifacts, converge the supervisor, and report
// status with rollback semantics. Grounded throughout on the teacher's
// request-scoped orchestration style in internal/app (goroutine per
// unit of work, typed errors, structured logging via
// internal/pkg/logger).
package deployment

// FailurePolicy selects the recovery behavior when reconciliation
// fails partway through.
type FailurePolicy string

const (
	DoNothing FailurePolicy = "DO_NOTHING"
	Rollback  FailurePolicy = "ROLLBACK"
)

// SourceKind identifies where a Document originated, per spec.md §3's
// Deployment.source field.
type SourceKind string

const (
	SourceCloudJob SourceKind = "CLOUD_JOB"
	SourceLocal    SourceKind = "LOCAL"
	SourceShadow   SourceKind = "SHADOW"
)

// RootComponent names one entry of a Document's root package list,
// spec.md §3's `(name, versionConstraint, config?)`.
type RootComponent struct {
	Name       string
	Constraint string
	Config     map[string]any
}

// Document is the engine's input shape, independent of which Source
// produced it (cloud job JSON, local queue, shadow delta).
type Document struct {
	ID               string
	GroupID          string
	Timestamp        int64
	ConfigurationArn string
	FailurePolicy    FailurePolicy
	Roots            []RootComponent
	Source           SourceKind
}

// Status is the deployment's outward-facing lifecycle state, reported
// via the Fleet Status Reporter and, for cloud jobs, acknowledged on
// the control plane.
type Status string

const (
	StatusInProgress            Status = "IN_PROGRESS"
	StatusSucceeded             Status = "SUCCEEDED"
	StatusFailed                Status = "FAILED"
	StatusFailedRollbackComplete    Status = "FAILED_ROLLBACK_COMPLETE"
	StatusFailedRollbackNotRequested Status = "FAILED_ROLLBACK_NOT_REQUESTED"
)

// StatusUpdate is the outcome the engine reports once a Document
// reaches a terminal status.
type StatusUpdate struct {
	DeploymentID   string
	GroupID        string
	Source         SourceKind
	Status         Status
	DetailedStatus string
	FailureCause   string
}
