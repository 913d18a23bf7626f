// Package credentials lifts the downloader's refresh-on-expiry contract
// (spec.md §9's open question, resolved in SPEC_FULL.md) to a common
// Provider interface so the vendor-repo and container-registry
// downloader variants share the same lazy-fetch-before-use, never-use-if-expired discipline, grounded on
// the teacher's secrets.Provider/Resolver pattern
// (internal/infrastructure/secrets/resolver.go).
package credentials

import (
	"context"
	"fmt"
	"time"
)

// RegistryCredentials is the data model named in spec.md §3. Never use
// a value past ExpiresAt; fetch lazily, immediately before use.
type RegistryCredentials struct {
	Username  string
	Password  string
	ExpiresAt time.Time
}

// Expired reports whether the credentials are unusable at now, per the
// invariant "never used when expiresAt <= now".
func (c RegistryCredentials) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// Provider resolves short-lived credentials for a named endpoint (a
// registry host, a bucket, a vendor-repo base URL). Concrete providers
// wrap a specific backend; callers never construct RegistryCredentials
// themselves.
type Provider interface {
	// Name identifies this provider for logging/diagnostics.
	Name() string
	// Fetch retrieves fresh credentials for endpoint.
	Fetch(ctx context.Context, endpoint string) (RegistryCredentials, error)
}

// Resolver caches the last-fetched credentials per endpoint and
// refreshes them transparently once they expire, implementing "fetched
// lazily before login" and "if credentials expired between fetch and
// use, perform one credential refresh" from spec.md §4.2.
type Resolver struct {
	provider Provider
	now      func() time.Time

	cache map[string]RegistryCredentials
}

// NewResolver creates a Resolver backed by provider. nowFn defaults to
// time.Now; tests may override it.
func NewResolver(provider Provider, nowFn func() time.Time) *Resolver {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Resolver{provider: provider, now: nowFn, cache: make(map[string]RegistryCredentials)}
}

// Get returns valid credentials for endpoint, fetching or refreshing as
// needed. It performs at most one refresh attempt per call: if the
// provider itself returns already-expired credentials, that is
// surfaced as an error rather than retried in a loop.
func (r *Resolver) Get(ctx context.Context, endpoint string) (RegistryCredentials, error) {
	now := r.now()
	if cached, ok := r.cache[endpoint]; ok && !cached.Expired(now) {
		return cached, nil
	}

	fresh, err := r.provider.Fetch(ctx, endpoint)
	if err != nil {
		return RegistryCredentials{}, err
	}
	if fresh.Expired(r.now()) {
		fresh, err = r.provider.Fetch(ctx, endpoint)
		if err != nil {
			return RegistryCredentials{}, err
		}
		if fresh.Expired(r.now()) {
			return RegistryCredentials{}, fmt.Errorf("credentials: %s returned already-expired credentials for %s", r.provider.Name(), endpoint)
		}
	}
	r.cache[endpoint] = fresh
	return fresh, nil
}
