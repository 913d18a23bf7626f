// Package retry implements the two retry regimes used across the agent:
// infinite-with-cap for connection-class failures while the network is
// online, and finite-attempt for auth/service-unavailable failures. Both
// pause while the network is offline and resume without charging the
// offline interval against the attempt budget.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NetworkState reports whether the aggregate MQTT connection is up, so
// retry loops can pause rather than burn their attempt budget offline.
type NetworkState interface {
	// Online blocks until the aggregate connection is up, or ctx is
	// cancelled. It returns immediately if already online.
	Online(ctx context.Context) error
}

// AlwaysOnline is a NetworkState for callers with no multiplexer wired
// (e.g. unit tests, or artifact sources that do not depend on MQTT).
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) error { return nil }

// Policy configures one retry regime.
type Policy struct {
	// MaxAttempts is the finite attempt cap; zero means infinite.
	MaxAttempts int
	// InitialInterval, MaxInterval, Multiplier configure the backoff curve.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Network is consulted before each attempt; retries pause until it
	// reports online.
	Network NetworkState
}

// Connection returns the infinite-attempts, capped-interval policy for
// connection-class failures (transport error, DNS failure, 5xx).
func Connection(network NetworkState) Policy {
	if network == nil {
		network = AlwaysOnline{}
	}
	return Policy{
		MaxAttempts:     0,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Network:         network,
	}
}

// Finite returns the bounded-attempts policy for auth-class and
// service-unavailable failures.
func Finite(maxAttempts int, network NetworkState) Policy {
	if network == nil {
		network = AlwaysOnline{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 1 * time.Second,
		MaxInterval:     20 * time.Second,
		Multiplier:      2,
		Network:         network,
	}
}

func (p Policy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0 // attempt count, not wall clock, bounds finite policies
	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	}
	return eb
}

// Do runs fn under the policy, pausing between attempts on the
// configured backoff curve and on network state. It stops retrying (and
// returns the last error) once a finite budget is exhausted, or once ctx
// is cancelled.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	operation := func() error {
		if err := p.Network.Online(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return fn(ctx)
	}
	return backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx))
}

// Permanent marks an error as non-retryable, surfacing it to the caller
// on the first attempt (used for failures another attempt cannot fix,
// such as a request that cannot be built).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
