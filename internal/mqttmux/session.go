package mqttmux

import (
	"context"
	"sync"
	"time"
)

// MaxSubsPerSession is the hard per-connection subscription ceiling
// (spec.md §3's Session invariant): subscriptionCount <= 50.
const MaxSubsPerSession = 50

type sessionState string

const (
	sessionConnecting  sessionState = "CONNECTING"
	sessionConnected   sessionState = "CONNECTED"
	sessionInterrupted sessionState = "INTERRUPTED"
	sessionClosed      sessionState = "CLOSED"
)

// transport is the broker-facing operations one session needs. The
// production implementation wraps autopaho.ConnectionManager; tests
// substitute a fake so placement and dispatch logic can be verified
// without a live broker.
type transport interface {
	Subscribe(ctx context.Context, filter string, qos byte) error
	Unsubscribe(ctx context.Context, filter string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Disconnect(ctx context.Context) error
}

// session wraps one broker connection and tracks how many broker-side
// filters are placed on it.
type session struct {
	id        string
	transport transport

	mu                       sync.Mutex
	state                    sessionState
	subscriptionCount        int
	lastSubscriptionChangeAt time.Time
	idleSince                time.Time // zero unless subscriptionCount == 0
}

func newSession(id string, t transport) *session {
	return &session{id: id, transport: t, state: sessionConnecting}
}

func (s *session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionConnected
}

func (s *session) hasCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != sessionClosed && s.subscriptionCount < MaxSubsPerSession
}

func (s *session) adjustCount(delta int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionCount += delta
	s.lastSubscriptionChangeAt = now
	if s.subscriptionCount <= 0 {
		s.subscriptionCount = 0
		if s.idleSince.IsZero() {
			s.idleSince = now
		}
	} else {
		s.idleSince = time.Time{}
	}
}

// idleFor reports how long this session has had zero subscriptions, or
// zero if it currently has any.
func (s *session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleSince.IsZero() {
		return 0
	}
	return now.Sub(s.idleSince)
}
