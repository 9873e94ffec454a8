package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

var (
	ErrNotConnected = errors.New("mqtt: not connected")
	ErrStopped      = errors.New("mqtt: client stopped")
	ErrTimeout      = errors.New("mqtt: operation timed out")
)

type Options struct {
	Broker   string
	Port     int
	ClientID string
	// Username and Password are sent only when Username is non-empty.
	Username string
	Password string
	// Timeout bounds each connect attempt and each publish.
	Timeout time.Duration
	QoS     byte
}

type Client struct {
	client    mqtt.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(o Options, logger *slog.Logger) *Client {
	c := &Client{
		opts:   o,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if c.opts.Timeout <= 0 {
		c.opts.Timeout = 2 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Session settings
	opts.SetCleanSession(true)

	// One bounded attempt per Connect call; the device loop decides when to
	// try again. Once up, paho reconnects on its own goroutines.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectTimeout(c.opts.Timeout)
	opts.SetWriteTimeout(c.opts.Timeout)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect makes a single connection attempt bounded by the client timeout
// and ctx. Refused credentials are reported as ErrRefusedAuth.
func (c *Client) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	// Fast path.
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	deadline := time.Now().Add(c.opts.Timeout)

	const poll = 50 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				if IsAuthError(err) {
					return fmt.Errorf("mqtt connect: %w: %w", ErrRefusedAuth, err)
				}
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler also runs, but on its own goroutine; a publish
			// straight after Connect must already see the connection.
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mqtt connect to %s:%d: %w", c.opts.Broker, c.opts.Port, ErrTimeout)
		}
	}
}

// ErrRefusedAuth marks a CONNACK refused for bad credentials or missing
// authorisation.
var ErrRefusedAuth = errors.New("mqtt: connection refused by broker authentication")

// IsAuthError reports whether err is a broker authentication refusal.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrRefusedAuth) ||
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}

// Publish sends payload to topic and waits for the broker acknowledgement up
// to the client timeout.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	if !token.WaitTimeout(c.opts.Timeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	c.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent; after Disconnect, Connect returns ErrStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
