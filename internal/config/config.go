// Package config loads the agent's own runtime configuration — the
// keys spec.md §6 names for fleet status cadence, deployment
// concurrency, artifact download retry, supervisor timeouts, and MQTT
// session limits — via github.com/spf13/viper, the way the teacher
// loads CLI configuration in internal/cli/root.go (SetConfigFile/
// AddConfigPath/SetConfigType/AutomaticEnv). This reads agent
// configuration only; it is not a recipe-format parser and not a CLI
// flag parser.
package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultFleetStatusIntervalSec = 86400
	minFleetStatusIntervalSec     = 3600
	defaultDownloadRetryAttempts  = 5
	defaultSupervisorStartupMs    = 30000
	defaultSupervisorShutdownMs   = 30000
	defaultMaxSubsPerSession      = 50
	// fixedMaxConcurrentPerGroup is spec.md §6's "fixed at 1" value;
	// it is exposed as a field (not hardcoded at call sites) so callers
	// read it the same way as every other key, but config cannot
	// override it.
	fixedMaxConcurrentPerGroup = 1
)

// Snapshot is an immutable view of the agent's configuration, published
// as a whole via Store.Load/Current per spec.md §5's "shared resources are
// published immutably" rule — no caller ever sees a partially-updated
// config.
type Snapshot struct {
	FleetStatusPeriodicPublishInterval time.Duration
	DeploymentMaxConcurrentPerGroup    int
	ArtifactDownloadRetryMaxAttempts   int
	SupervisorStartupTimeout           time.Duration
	SupervisorShutdownTimeout          time.Duration
	MQTTMaxSubscriptionsPerSession     int

	MQTTBrokerURL  string
	ThingName      string
	RedisAddress   string
	ArtifactRoot   string
	RecipeRoot     string
}

// Store holds the single, atomically-swapped current Snapshot. The
// loader is its only writer; every other goroutine only reads via
// Current.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with an all-defaults Snapshot, so
// Current never returns nil even before the first Load.
func NewStore() *Store {
	s := &Store{}
	defaults := applyDefaults(Snapshot{})
	s.current.Store(&defaults)
	return s
}

// Current returns the most recently loaded Snapshot.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Load reads path (if non-empty) plus environment overrides (prefix
// AGENTCORE_, per the teacher's AutomaticEnv usage) into a fresh
// Snapshot and swaps it in atomically.
func (s *Store) Load(path string) error {
	snap, err := load(path)
	if err != nil {
		return err
	}
	s.current.Store(&snap)
	return nil
}

func load(path string) (Snapshot, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTCORE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Snapshot{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	snap := Snapshot{
		FleetStatusPeriodicPublishInterval: time.Duration(v.GetInt64("fleetStatus.periodicPublishIntervalSec")) * time.Second,
		DeploymentMaxConcurrentPerGroup:    fixedMaxConcurrentPerGroup,
		ArtifactDownloadRetryMaxAttempts:   v.GetInt("artifact.downloadRetry.maxAttempts"),
		SupervisorStartupTimeout:           time.Duration(v.GetInt64("supervisor.startupTimeoutMs")) * time.Millisecond,
		SupervisorShutdownTimeout:          time.Duration(v.GetInt64("supervisor.shutdownTimeoutMs")) * time.Millisecond,
		MQTTMaxSubscriptionsPerSession:     v.GetInt("mqtt.maxSubscriptionsPerSession"),
		MQTTBrokerURL:                      v.GetString("mqtt.brokerUrl"),
		ThingName:                          v.GetString("thing.name"),
		RedisAddress:                       v.GetString("statecache.redisAddress"),
		ArtifactRoot:                       v.GetString("paths.artifactRoot"),
		RecipeRoot:                         v.GetString("paths.recipeRoot"),
	}
	return applyDefaults(snap), nil
}

// applyDefaults fills every zero-valued field with spec.md §6's
// default, and raises FleetStatusPeriodicPublishInterval to the 1h
// floor if configured lower.
func applyDefaults(snap Snapshot) Snapshot {
	if snap.FleetStatusPeriodicPublishInterval == 0 {
		snap.FleetStatusPeriodicPublishInterval = defaultFleetStatusIntervalSec * time.Second
	}
	if snap.FleetStatusPeriodicPublishInterval < minFleetStatusIntervalSec*time.Second {
		snap.FleetStatusPeriodicPublishInterval = minFleetStatusIntervalSec * time.Second
	}
	if snap.DeploymentMaxConcurrentPerGroup == 0 {
		snap.DeploymentMaxConcurrentPerGroup = fixedMaxConcurrentPerGroup
	}
	if snap.ArtifactDownloadRetryMaxAttempts == 0 {
		snap.ArtifactDownloadRetryMaxAttempts = defaultDownloadRetryAttempts
	}
	if snap.SupervisorStartupTimeout == 0 {
		snap.SupervisorStartupTimeout = defaultSupervisorStartupMs * time.Millisecond
	}
	if snap.SupervisorShutdownTimeout == 0 {
		snap.SupervisorShutdownTimeout = defaultSupervisorShutdownMs * time.Millisecond
	}
	if snap.MQTTMaxSubscriptionsPerSession == 0 {
		snap.MQTTMaxSubscriptionsPerSession = defaultMaxSubsPerSession
	}
	return snap
}
