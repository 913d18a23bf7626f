// Package fleetstatus implements spec.md §4.6: aggregate component
// state into compact, chunked status messages and publish them on
// trigger (deployment completion, a component going BROKEN, multiplexer
// reconnect, and a configurable cadence), via the MQTT Multiplexer.
package fleetstatus

// Trigger names why a status payload was published.
type Trigger string

const (
	TriggerDeployment Trigger = "THING_GROUP_DEPLOYMENT"
	TriggerLocal      Trigger = "LOCAL_DEPLOYMENT"
	TriggerBroken     Trigger = "BROKEN_COMPONENT"
	TriggerReconnect  Trigger = "RECONNECT"
	TriggerCadence    Trigger = "CADENCE"
)

// MessageType distinguishes a self-contained report from one chunk of a
// larger one.
type MessageType string

const (
	MessageComplete MessageType = "COMPLETE"
	MessagePartial  MessageType = "PARTIAL"
)

// OverallStatus summarizes component health across the reported set.
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "HEALTHY"
	StatusUnhealthy OverallStatus = "UNHEALTHY"
)

// ChunkInfo identifies one chunk of a multi-message report. ChunkID is
// 1-based.
type ChunkInfo struct {
	ChunkID     int `json:"chunkId"`
	TotalChunks int `json:"totalChunks"`
}

// ComponentDetail is one component's reported state.
type ComponentDetail struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
}

// DeploymentInformation accompanies a THING_GROUP_DEPLOYMENT or
// LOCAL_DEPLOYMENT deployment-completion report, including one queued
// while offline and published on reconnect; RECONNECT reports carry
// none.
type DeploymentInformation struct {
	DeploymentID   string `json:"deploymentId"`
	Status         string `json:"status"`
	DetailedStatus string `json:"detailedStatus,omitempty"`
	FailureCause   string `json:"failureCause,omitempty"`
}

// Payload is the wire shape spec.md §4.6 and §6 name for the
// $aws/things/<thing>/greengrassv2/health/json topic.
type Payload struct {
	GGCVersion            string                 `json:"ggcVersion"`
	Thing                 string                 `json:"thing"`
	OverallStatus         OverallStatus          `json:"overallStatus"`
	MessageType           MessageType            `json:"messageType"`
	Trigger               Trigger                `json:"trigger"`
	ChunkInfo             *ChunkInfo             `json:"chunkInfo,omitempty"`
	DeploymentInformation *DeploymentInformation `json:"deploymentInformation,omitempty"`
	ComponentDetails      []ComponentDetail      `json:"componentDetails"`
}
