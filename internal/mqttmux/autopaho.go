package mqttmux

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// autopahoTransport adapts an autopaho.ConnectionManager (which already
// owns reconnect-with-backoff for a single broker connection) to the
// transport interface the rest of this package needs.
type autopahoTransport struct {
	cm *autopaho.ConnectionManager
}

func (t *autopahoTransport) Subscribe(ctx context.Context, filter string, qos byte) error {
	_, err := t.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: qos}},
	})
	return err
}

func (t *autopahoTransport) Unsubscribe(ctx context.Context, filter string) error {
	_, err := t.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (t *autopahoTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	_, err := t.cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: qos})
	return err
}

func (t *autopahoTransport) Disconnect(ctx context.Context) error {
	return t.cm.Disconnect(ctx)
}

// AutopahoDialerConfig carries the broker connection parameters shared
// by every session a Multiplexer opens.
type AutopahoDialerConfig struct {
	BrokerURLs      []*url.URL
	ClientIDPrefix  string
	Username        string
	Password        []byte
	KeepAliveSecs   uint16
	ConnectTimeout  time.Duration
	TLS             *tls.Config
}

// NewAutopahoDialer returns a Dialer that opens one autopaho connection
// per session, grounded on the pack's paho v5 usages (the throughput
// benchmark's subscriber/publisher pair and the thane-ai-agent MQTT
// publisher): KeepAlive, OnConnectionUp/OnConnectError wired straight
// through to autopaho.ClientConfig.
func NewAutopahoDialer(cfg AutopahoDialerConfig) Dialer {
	return func(ctx context.Context, id string, onMessage func(topic string, payload []byte), onUp, onDown func()) (transport, error) {
		keepAlive := cfg.KeepAliveSecs
		if keepAlive == 0 {
			keepAlive = 30
		}
		clientCfg := autopaho.ClientConfig{
			ServerUrls:      cfg.BrokerURLs,
			KeepAlive:       keepAlive,
			ConnectUsername: cfg.Username,
			ConnectPassword: cfg.Password,
			OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
				onUp()
			},
			OnConnectError: func(err error) {
				onDown()
			},
			ClientConfig: paho.ClientConfig{
				ClientID: fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, id),
				Router:   paho.NewSingleHandlerRouter(func(m *paho.Publish) { onMessage(m.Topic, m.Payload) }),
			},
		}
		if cfg.TLS != nil {
			clientCfg.TlsCfg = cfg.TLS
		}

		connectCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}

		cm, err := autopaho.NewConnection(ctx, clientCfg)
		if err != nil {
			return nil, err
		}
		if err := cm.AwaitConnection(connectCtx); err != nil {
			return nil, fmt.Errorf("await connection: %w", err)
		}
		return &autopahoTransport{cm: cm}, nil
	}
}
