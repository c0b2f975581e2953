// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package connection

import (
	"context"
	"crypto/tls"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// MQTT defaults.
const (
	DefaultQoS            byte = 2
	DefaultConnectTimeout      = 10 * time.Second
	DefaultConnectRetries      = 5
	DefaultRetryBase           = 250 * time.Millisecond
	DefaultRetryCap            = 5 * time.Second
	disconnectQuiesceMS        = 250
)

// MQTTOptions configures a broker connection.
type MQTTOptions struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883" or "ws://host:9001".
	Broker   string
	ClientID string
	Username string
	Password string
	// QoS is used for publishes and subscriptions. Devices use exactly-once.
	QoS            byte
	ConnectTimeout time.Duration
	// ConnectRetries bounds the retries of the initial connect.
	ConnectRetries uint64
	// TLSConfig is used for ssl://, tls:// and wss:// brokers.
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

func (o *MQTTOptions) applyDefaults() {
	if o.ClientID == "" {
		o.ClientID = NewClientID("tet")
	}
	if o.QoS > 2 {
		o.QoS = DefaultQoS
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NewClientID returns a unique client id with the given prefix.
func NewClientID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

// MQTT is a Connection to an MQTT broker.
type MQTT struct {
	listeners

	opts MQTTOptions

	mu     sync.Mutex
	client mqtt.Client
	subs   []string
}

var _ Connection = (*MQTT)(nil)

// NewMQTT returns a disconnected broker connection.
func NewMQTT(opts MQTTOptions) *MQTT {
	opts.applyDefaults()
	m := &MQTT{opts: opts}
	m.logger = opts.Logger.With("broker", opts.Broker, "client_id", opts.ClientID)
	return m
}

func (m *MQTT) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(m.opts.Broker).
		SetClientID(m.opts.ClientID).
		SetConnectTimeout(m.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost)
	if m.opts.Username != "" {
		o.SetUsername(m.opts.Username)
		o.SetPassword(m.opts.Password)
	}
	if m.opts.TLSConfig != nil {
		o.SetTLSConfig(m.opts.TLSConfig)
	}
	return o
}

// Connect dials the broker, retrying with exponential backoff.
func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return alreadyConnected()
	}

	client := mqtt.NewClient(m.clientOptions())
	backoff := retry.WithCappedDuration(DefaultRetryCap, retry.NewExponential(DefaultRetryBase))
	backoff = retry.WithMaxRetries(m.opts.ConnectRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		tok := client.Connect()
		if err := waitToken(ctx, tok, m.opts.ConnectTimeout); err != nil {
			m.logger.Warn("broker connect attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.In("connection").
			Code(CodeConnectFailed).
			With("broker", m.opts.Broker).
			With("attempts", attempt).
			Wrapf(err, "connect to broker")
	}
	m.client = client
	return nil
}

// Disconnect closes the broker session.
func (m *MQTT) Disconnect(_ context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.subs = nil
	m.mu.Unlock()

	if client == nil {
		return notConnected("disconnect")
	}
	client.Disconnect(disconnectQuiesceMS)
	m.emit(EventDisconnect, Event{})
	return nil
}

// IsConnected reports whether the broker session is up.
func (m *MQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.IsConnectionOpen()
}

// Publish sends payload and waits for the broker acknowledgement.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	client := m.current()
	if client == nil {
		return notConnected("publish")
	}
	if !ValidTopic(topic) {
		return oops.In("connection").Code(CodePublishFailed).With("topic", topic).Errorf("invalid topic %q", topic)
	}
	tok := client.Publish(topic, m.opts.QoS, retain, payload)
	if err := waitToken(ctx, tok, 0); err != nil {
		return oops.In("connection").Code(CodePublishFailed).With("topic", topic).Wrap(err)
	}
	return nil
}

// Subscribe subscribes to filter. Subscriptions are restored after an
// automatic reconnect.
func (m *MQTT) Subscribe(ctx context.Context, filter string) error {
	if _, err := CompileFilter(filter); err != nil {
		return err
	}
	client := m.current()
	if client == nil {
		return notConnected("subscribe")
	}
	tok := client.Subscribe(filter, m.opts.QoS, m.handle)
	if err := waitToken(ctx, tok, 0); err != nil {
		return oops.In("connection").Code(CodeSubscribeFailed).With("filter", filter).Wrap(err)
	}

	m.mu.Lock()
	if !slices.Contains(m.subs, filter) {
		m.subs = append(m.subs, filter)
	}
	m.mu.Unlock()
	return nil
}

func (m *MQTT) current() mqtt.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	m.emit(EventMessage, Event{Message: Message{
		Topic:    msg.Topic(),
		Payload:  slices.Clone(msg.Payload()),
		Retained: msg.Retained(),
	}})
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.mu.Lock()
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	m.logger.Info("broker connected", "resubscribe", len(subs))
	if len(subs) > 0 {
		filters := make(map[string]byte, len(subs))
		for _, s := range subs {
			filters[s] = m.opts.QoS
		}
		// The handler runs on a paho goroutine that must not block on tokens.
		go func() {
			tok := client.SubscribeMultiple(filters, m.handle)
			if err := waitToken(context.Background(), tok, m.opts.ConnectTimeout); err != nil {
				m.logger.Error("resubscribe failed", "error", err)
			}
		}()
	}
	m.emit(EventConnect, Event{})
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("broker connection lost", "error", err)
	m.emit(EventDisconnect, Event{Err: oops.In("connection").Wrapf(err, "connection lost")})
}

// waitToken waits for tok, ctx, or timeout when positive.
func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
