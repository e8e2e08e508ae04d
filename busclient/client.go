// Package busclient manages the MQTT connection shared by every publisher
// in the process. It wraps the paho client with connection status tracking,
// bounded-timeout publish acknowledgment, a last-will availability topic and
// reconnect notification for session-scoped state (retained discovery
// descriptors may be lost when the broker session is not persisted).
package busclient

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mawinkler/astrolive/errors"
)

// ConnectionStatus represents the state of the bus connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// availabilityTopic carries the process-level last-will payload
const availabilityTopic = "astrolive/lwt"

// MessageHandler receives one inbound message from a subscription
type MessageHandler func(topic string, payload []byte)

// Publisher is the publish surface components depend on. *Client
// implements it; tests substitute fakes.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Subscriber is the subscribe surface the command router depends on
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Options configures the bus client
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TLSEnabled  bool
	TLSCAFile   string
	TLSInsecure bool
	// Timeout bounds every connect, publish and subscribe acknowledgment
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is the shared bus connection handle. Concurrent publishes from
// independent poller tasks are safe; the underlying paho client serializes
// its outbound channel internally.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	client mqtt.Client
	status ConnectionStatus

	// generation increments on every (re-)connection establishment so
	// session-scoped publishers can detect that retained state may be gone
	generation atomic.Uint64

	reconnectMu sync.Mutex
	onReconnect []func()

	subsMu sync.Mutex
	subs   map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// NewClient creates a bus client; Connect must be called before use
func NewClient(opts Options) (*Client, error) {
	if opts.Broker == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "busclient", "NewClient", "broker address")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: logger.With("component", "busclient"),
		status: StatusDisconnected,
		subs:   make(map[string]subscription),
	}, nil
}

// Connect establishes the broker connection, sets the last-will and
// publishes the availability payload
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		return nil
	}
	c.status = StatusConnecting

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	clientID := fmt.Sprintf("%s-%s", c.opts.ClientID, hex.EncodeToString(suffix))

	mopts := mqtt.NewClientOptions().
		AddBroker(c.opts.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(c.opts.Timeout).
		SetWill(availabilityTopic, "OFF", 1, true)

	if c.opts.Username != "" {
		mopts.SetUsername(c.opts.Username)
		mopts.SetPassword(c.opts.Password)
	}

	if c.opts.TLSEnabled {
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			return err
		}
		mopts.SetTLSConfig(tlsConfig)
	}

	mopts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.status = StatusReconnecting
		c.mu.Unlock()
		c.logger.Warn("Bus connection lost", "error", err)
	})

	mopts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.status = StatusConnected
		c.mu.Unlock()
		generation := c.generation.Add(1)
		c.logger.Info("Bus connected", "broker", c.opts.Broker, "session", generation)

		// The broker may have dropped our subscriptions and retained
		// state with the old session; restore both.
		client.Publish(availabilityTopic, 1, true, "ON")
		c.restoreSubscriptions(client)
		c.notifyReconnect()
	})

	client := mqtt.NewClient(mopts)
	token := client.Connect()
	if !token.WaitTimeout(c.opts.Timeout) {
		c.status = StatusDisconnected
		return errors.WrapTransient(errors.ErrConnectionTimeout, "busclient", "Connect", "broker connect")
	}
	if err := token.Error(); err != nil {
		c.status = StatusDisconnected
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBusUnreachable, err),
			"busclient", "Connect", "broker connect")
	}

	c.client = client
	return nil
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.opts.TLSInsecure, //nolint:gosec // operator opt-in for self-signed brokers
	}
	if c.opts.TLSCAFile != "" {
		pem, err := os.ReadFile(c.opts.TLSCAFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "busclient", "tlsConfig", "reading CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.WrapFatal(
				fmt.Errorf("no certificates parsed from %s", c.opts.TLSCAFile),
				"busclient", "tlsConfig", "parsing CA file")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Publish sends one message and waits for the acknowledgment within the
// bounded timeout. A timeout is treated as a bus connectivity error; the
// payload is dropped, never buffered (the next poll cycle supersedes it).
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return errors.WrapTransient(errors.ErrNoConnection, "busclient", "Publish", "connection check")
	}

	token := client.Publish(topic, qos, retained, payload)

	deadline := c.opts.Timeout
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(ctxDeadline); remaining < deadline {
			deadline = remaining
		}
	}
	if !token.WaitTimeout(deadline) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "busclient", "Publish", "publish ack")
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBusUnreachable, err),
			"busclient", "Publish", "publish")
	}
	return nil
}

// Subscribe registers a handler for a topic. The subscription survives
// reconnects: it is replayed on every connection establishment.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subsMu.Unlock()

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		// Not connected yet; the connect handler replays it
		return nil
	}

	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.opts.Timeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "busclient", "Subscribe", "subscribe ack")
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"busclient", "Subscribe", "subscribe")
	}
	return nil
}

func (c *Client) restoreSubscriptions(client mqtt.Client) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for topic, sub := range c.subs {
		handler := sub.handler
		token := client.Subscribe(topic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(c.opts.Timeout) || token.Error() != nil {
			c.logger.Error("Failed to restore subscription", "topic", topic, "error", token.Error())
		}
	}
}

// OnReconnect registers a callback invoked after every connection
// establishment, including the first
func (c *Client) OnReconnect(fn func()) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Client) notifyReconnect() {
	c.reconnectMu.Lock()
	callbacks := make([]func(), len(c.onReconnect))
	copy(callbacks, c.onReconnect)
	c.reconnectMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Generation returns the current connection session number. It increments
// on every (re-)connection, so publishers of retained session state can
// detect when a re-announce is needed.
func (c *Client) Generation() uint64 {
	return c.generation.Load()
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Connected reports whether the bus connection is usable
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Close publishes the offline availability payload and disconnects within
// the grace period
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return
	}
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(availabilityTopic, 1, true, "OFF")
		token.WaitTimeout(c.opts.Timeout)
	}
	c.client.Disconnect(uint(c.opts.Timeout / time.Millisecond))
	c.client = nil
	c.status = StatusDisconnected
	c.logger.Info("Bus disconnected")
}
