// Package statecache persists small pieces of cross-restart state that
// must survive a process restart to keep their invariants: per-group
// last-accepted deployment timestamps (spec.md §3/§8 invariant #4) and
// the fleet status reporter's pending-RECONNECT/cadence bookkeeping
// (§4.6). Grounded on the teacher's Redis services
// (internal/app/cache/service.go, internal/app/queues/service.go);
// falls back to an in-memory map so Redis is never a hard runtime
// dependency for a bare edge device.
package statecache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the key-value contract the deployment engine and fleet
// status reporter depend on. Both the Redis-backed and in-memory
// implementations satisfy it.
type Store interface {
	// GetInt64 returns the stored value for key, or (0, false) if unset.
	GetInt64(ctx context.Context, key string) (int64, bool, error)
	// SetInt64 stores value under key.
	SetInt64(ctx context.Context, key string, value int64) error
	// GetString returns the stored value for key, or ("", false) if unset.
	GetString(ctx context.Context, key string) (string, bool, error)
	// SetString stores value under key.
	SetString(ctx context.Context, key string, value string) error
}

// Config configures the Redis-backed Store, mirroring the teacher's
// cache.Config (internal/app/cache/service.go).
type Config struct {
	Address  string
	Password string
	DB       int
}

// RedisStore is a Store backed by Redis, used when Config.Address is
// non-empty.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies reachability with a
// bounded Ping, the same pattern as the teacher's cache.NewService.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statecache: connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("statecache: get %s: %w", key, err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("statecache: parse %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) SetInt64(ctx context.Context, key string, value int64) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("statecache: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statecache: get %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *RedisStore) SetString(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("statecache: set %s: %w", key, err)
	}
	return nil
}

// MemoryStore is the in-memory fallback Store used when no Redis
// endpoint is configured. State does not survive a process restart,
// only the process lifetime.
type MemoryStore struct {
	mu     sync.RWMutex
	ints   map[string]int64
	strs   map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ints: make(map[string]int64), strs: make(map[string]string)}
}

func (m *MemoryStore) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *MemoryStore) SetInt64(ctx context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] = value
	return nil
}

func (m *MemoryStore) GetString(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strs[key] = value
	return nil
}

// Open returns a Redis-backed Store when addr is non-empty, otherwise
// an in-memory Store — the single call site cmd/agentcored uses to
// decide whether Redis is configured.
func Open(cfg Config) (Store, error) {
	if cfg.Address == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(cfg)
}

// lastAcceptedKey namespaces a group's last-accepted-deployment-
// timestamp entry.
func lastAcceptedKey(groupID string) string {
	return "deployment:last_accepted:" + groupID
}

// LastAccepted returns the last-accepted deployment timestamp for
// groupID, or 0 if none is recorded yet.
func LastAccepted(ctx context.Context, store Store, groupID string) (int64, error) {
	v, ok, err := store.GetInt64(ctx, lastAcceptedKey(groupID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

// RecordAccepted stores timestamp as groupID's new last-accepted
// value. Callers must only call this with a timestamp greater than
// the current one — monotonicity is the caller's invariant to
// maintain (spec.md §8 invariant #4), not this store's.
func RecordAccepted(ctx context.Context, store Store, groupID string, timestamp int64) error {
	return store.SetInt64(ctx, lastAcceptedKey(groupID), timestamp)
}
