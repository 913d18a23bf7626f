// Package mqttmux implements the pooled, deduplicating MQTT facade of
// spec.md §4.1: a single Subscribe/Unsubscribe/Publish/
// AddConnectionListener surface backed by a pool of broker sessions, so
// that per-connection subscription limits never surface to callers and
// overlapping wildcard filters never cause duplicate delivery.
package mqttmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetedge/agentcore/internal/domain/mqtttopic"
	"github.com/fleetedge/agentcore/internal/pkg/clock"
	"github.com/fleetedge/agentcore/internal/pkg/logger"
)

// ErrNoConnection is returned by Publish once every session has stayed
// offline past the caller's deadline.
var ErrNoConnection = errors.New("mqttmux: no connection")

// Callback receives a message whose topic matched a subscribed filter.
type Callback func(topic string, payload []byte)

// SubscriptionToken identifies one Subscribe call, for Unsubscribe.
type SubscriptionToken uint64

type localSub struct {
	token    SubscriptionToken
	filter   string
	callback Callback
}

// placement is one broker-side subscription and the set of local
// tokens whose filter it covers.
type placement struct {
	session *session
	tokens  map[SubscriptionToken]struct{}
}

// Dialer opens one new broker connection (session). onMessage is
// invoked for every message the broker delivers on that connection;
// onUp/onDown report connection-state transitions for that session
// alone. dial runs with the Multiplexer's lock held, so onUp and
// onDown must not be invoked before dial returns. The production
// dialer wraps autopaho.NewConnection; tests substitute a fake.
type Dialer func(ctx context.Context, id string, onMessage func(topic string, payload []byte), onUp, onDown func()) (transport, error)

// Options configures a Multiplexer. Zero values fall back to package
// defaults.
type Options struct {
	Clock           clock.Clock
	IdleGrace       time.Duration
	PublishDeadline time.Duration
	Logger          interface {
		Warn(string, ...any)
		Error(string, ...any)
	}
}

const (
	defaultIdleGrace       = 5 * time.Minute
	defaultPublishDeadline = 30 * time.Second
)

// Multiplexer is the pooled MQTT facade described in spec.md §4.1.
type Multiplexer struct {
	dial Dialer
	opts Options

	mu         sync.Mutex
	sessions   []*session
	nextID     int
	nextToken  SubscriptionToken
	subs       map[SubscriptionToken]*localSub
	placements map[string]*placement // keyed by broker-side filter

	listenersMu sync.Mutex
	onInterrupt []func()
	onResume    []func()
	online      bool
}

// New creates a Multiplexer that dials new sessions through dial as
// subscription load requires.
func New(dial Dialer, opts Options) *Multiplexer {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	if opts.IdleGrace == 0 {
		opts.IdleGrace = defaultIdleGrace
	}
	if opts.PublishDeadline == 0 {
		opts.PublishDeadline = defaultPublishDeadline
	}
	return &Multiplexer{
		dial:       dial,
		opts:       opts,
		subs:       make(map[SubscriptionToken]*localSub),
		placements: make(map[string]*placement),
	}
}

// Subscribe guarantees that every message matching filter invokes cb at
// most once. It returns once the broker-side subscription (if any new
// one is needed) is confirmed, or with a permanent error if the broker
// refuses it.
func (m *Multiplexer) Subscribe(ctx context.Context, filter string, qos byte, cb Callback) (SubscriptionToken, error) {
	m.mu.Lock()
	for brokerFilter, p := range m.placements {
		if mqtttopic.Covers(brokerFilter, filter) {
			token := m.addLocalSubLocked(filter, cb)
			p.tokens[token] = struct{}{}
			m.mu.Unlock()
			return token, nil
		}
	}
	sess, err := m.sessionForNewSubscriptionLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := sess.transport.Subscribe(ctx, filter, qos); err != nil {
		return 0, fmt.Errorf("mqttmux: subscribe %q: %w", filter, err)
	}

	m.mu.Lock()
	token := m.addLocalSubLocked(filter, cb)
	m.placements[filter] = &placement{session: sess, tokens: map[SubscriptionToken]struct{}{token: {}}}
	sess.adjustCount(1, m.opts.Clock.Now())
	m.mu.Unlock()
	return token, nil
}

func (m *Multiplexer) addLocalSubLocked(filter string, cb Callback) SubscriptionToken {
	m.nextToken++
	token := m.nextToken
	m.subs[token] = &localSub{token: token, filter: filter, callback: cb}
	return token
}

// Unsubscribe removes the local callback and, if no remaining local
// filter is subsumed by its placement's broker filter, releases the
// broker-side subscription.
func (m *Multiplexer) Unsubscribe(ctx context.Context, token SubscriptionToken) error {
	m.mu.Lock()
	if _, ok := m.subs[token]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, token)

	var drained *placement
	var brokerFilter string
	for bf, p := range m.placements {
		if _, held := p.tokens[token]; held {
			delete(p.tokens, token)
			if len(p.tokens) == 0 {
				drained = p
				brokerFilter = bf
				delete(m.placements, bf)
			}
			break
		}
	}
	m.mu.Unlock()

	if drained == nil {
		return nil
	}
	if err := drained.session.transport.Unsubscribe(ctx, brokerFilter); err != nil {
		return fmt.Errorf("mqttmux: unsubscribe %q: %w", brokerFilter, err)
	}
	drained.session.adjustCount(-1, m.opts.Clock.Now())
	return nil
}

// Publish delivers payload with at-least-once semantics: it tries every
// connected session and fails with ErrNoConnection only once no session
// has been reachable for the configured deadline.
func (m *Multiplexer) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	deadline := m.opts.Clock.Now().Add(m.opts.PublishDeadline)
	var lastErr error
	for {
		m.mu.Lock()
		sessions := append([]*session(nil), m.sessions...)
		m.mu.Unlock()

		for _, sess := range sessions {
			if !sess.isConnected() {
				continue
			}
			if err := sess.transport.Publish(ctx, topic, payload, qos); err != nil {
				lastErr = err
				continue
			}
			return nil
		}

		if m.opts.Clock.Now().After(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrNoConnection, lastErr)
			}
			return ErrNoConnection
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.opts.Clock.After(50 * time.Millisecond):
		}
	}
}

// AddConnectionListener registers callbacks fired once per transition
// of the aggregate online state (any session up vs. all sessions down).
func (m *Multiplexer) AddConnectionListener(onInterrupt, onResume func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if onInterrupt != nil {
		m.onInterrupt = append(m.onInterrupt, onInterrupt)
	}
	if onResume != nil {
		m.onResume = append(m.onResume, onResume)
	}
}

func (m *Multiplexer) sessionForNewSubscriptionLocked(ctx context.Context) (*session, error) {
	for _, sess := range m.sessions {
		if sess.hasCapacity() {
			return sess, nil
		}
	}
	return m.spawnSessionLocked(ctx)
}

func (m *Multiplexer) spawnSessionLocked(ctx context.Context) (*session, error) {
	m.nextID++
	id := fmt.Sprintf("session-%d", m.nextID)
	t, err := m.dial(ctx, id,
		func(topic string, payload []byte) { m.dispatch(id, topic, payload) },
		func() { m.sessionUp(id) },
		func() { m.sessionDown(id) },
	)
	if err != nil {
		return nil, fmt.Errorf("mqttmux: dial session %s: %w", id, err)
	}
	sess := newSession(id, t)
	sess.setState(sessionConnected)
	m.sessions = append(m.sessions, sess)
	return sess, nil
}

// sessionUp marks a session connected, reissues every broker
// subscription placed on it (per spec.md §4.1's "on resume, previously
// placed broker subscriptions are reissued before any publish attempts
// complete"), and flips the aggregate online state if this is the first
// session to come up.
func (m *Multiplexer) sessionUp(id string) {
	sess, filters := m.sessionAndFiltersByID(id)
	if sess == nil {
		return
	}
	sess.setState(sessionConnected)
	for _, f := range filters {
		if err := sess.transport.Subscribe(context.Background(), f, 1); err != nil {
			m.warn("mqttmux: resubscribe failed on reconnect", "filter", f, "session", id, "error", err)
		}
	}
	m.updateAggregateOnline()
}

func (m *Multiplexer) sessionDown(id string) {
	m.mu.Lock()
	for _, sess := range m.sessions {
		if sess.id == id {
			sess.setState(sessionInterrupted)
			break
		}
	}
	m.mu.Unlock()
	m.updateAggregateOnline()
}

func (m *Multiplexer) sessionAndFiltersByID(id string) (*session, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *session
	for _, sess := range m.sessions {
		if sess.id == id {
			target = sess
			break
		}
	}
	if target == nil {
		return nil, nil
	}
	var filters []string
	for bf, p := range m.placements {
		if p.session == target {
			filters = append(filters, bf)
		}
	}
	return target, filters
}

func (m *Multiplexer) updateAggregateOnline() {
	m.mu.Lock()
	anyUp := false
	for _, sess := range m.sessions {
		if sess.isConnected() {
			anyUp = true
			break
		}
	}
	m.mu.Unlock()

	m.listenersMu.Lock()
	wasOnline := m.online
	m.online = anyUp
	var toFire []func()
	if anyUp && !wasOnline {
		toFire = append(toFire, m.onResume...)
	} else if !anyUp && wasOnline {
		toFire = append(toFire, m.onInterrupt...)
	}
	m.listenersMu.Unlock()

	for _, fn := range toFire {
		fn()
	}
}

// dispatch matches an incoming message against every broker filter
// placed on session id and invokes each distinct local callback at most
// once. A panicking callback is recovered and logged so it cannot
// prevent other callbacks from running.
func (m *Multiplexer) dispatch(sessionID, topic string, payload []byte) {
	m.mu.Lock()
	called := make(map[SubscriptionToken]struct{})
	var targets []Callback
	for bf, p := range m.placements {
		if p.session.id != sessionID {
			continue
		}
		if !mqtttopic.Matches(bf, topic) {
			continue
		}
		for token := range p.tokens {
			if _, done := called[token]; done {
				continue
			}
			sub, ok := m.subs[token]
			if !ok || !mqtttopic.Matches(sub.filter, topic) {
				continue
			}
			called[token] = struct{}{}
			targets = append(targets, sub.callback)
		}
	}
	m.mu.Unlock()

	for _, cb := range targets {
		m.invokeSafely(cb, topic, payload)
	}
}

func (m *Multiplexer) invokeSafely(cb Callback, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.warn("mqttmux: subscription callback panicked", "topic", topic, "panic", r)
		}
	}()
	cb(topic, payload)
}

// ReapIdleSessions closes the first session found to have held zero
// subscriptions for longer than IdleGrace, provided it is not the last
// remaining session (per spec.md §4.1's closure rule). At most one
// session is closed per call. Callers drive this on a
// timer; it performs no scheduling of its own.
func (m *Multiplexer) ReapIdleSessions(ctx context.Context) {
	now := m.opts.Clock.Now()
	m.mu.Lock()
	var victim *session
	if len(m.sessions) > 1 {
		for _, sess := range m.sessions {
			if sess.idleFor(now) >= m.opts.IdleGrace {
				victim = sess
				break
			}
		}
	}
	if victim != nil {
		kept := m.sessions[:0]
		for _, sess := range m.sessions {
			if sess != victim {
				kept = append(kept, sess)
			}
		}
		m.sessions = kept
	}
	m.mu.Unlock()

	if victim == nil {
		return
	}
	if err := victim.transport.Disconnect(ctx); err != nil {
		m.warn("mqttmux: idle session disconnect failed", "session", victim.id, "error", err)
	}
}

func (m *Multiplexer) warn(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Warn(msg, args...)
		return
	}
	logger.Default().Warn(msg, args...)
}
