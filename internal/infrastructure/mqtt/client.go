package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/brewbridge/internal/infrastructure/config"
)

// Client is one bridge's broker connection. It is bound to a single device:
// it announces the device's availability and owns the subscription to the
// device's command topic.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	device string
	log    Logger

	mu        sync.RWMutex
	connected bool
	commands  *commandSubscription
}

// Logger is the logging surface the client reports connection changes and
// command handler failures on.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connect dials the broker for device and waits for the first connection.
// The broker publishes "offline" on the availability topic if the bridge
// drops without calling Close.
//
// Parameters:
//   - cfg: MQTT section of the bridge configuration
//   - device: device name used in every topic
//   - logger: may be nil
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed if the broker did not accept the connection in time
func Connect(cfg config.MQTTConfig, device string, logger Logger) (*Client, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: device name required", ErrConnectionFailed)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{cfg: cfg, device: device, log: logger}

	opts := buildClientOptions(cfg, device)
	configureWill(opts, device)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnect runs on its own goroutine and may not have fired yet.
	c.setConnected(true)
	return c, nil
}

// onConnect runs after the first connection and every reconnect. The
// session is clean, so the command subscription has to be made again.
func (c *Client) onConnect() {
	c.setConnected(true)

	c.client.Publish(Topics{}.Availability(c.device), willQoS, true, []byte(availabilityOnline))

	c.mu.RLock()
	cmds := c.commands
	c.mu.RUnlock()
	if cmds == nil {
		c.log.Info("MQTT connected", "device", c.device)
		return
	}
	if err := c.subscribeCommands(cmds); err != nil {
		c.log.Error("restoring MQTT command subscription failed", "device", c.device, "error", err)
		return
	}
	c.log.Info("MQTT connected", "device", c.device, "commands", Topics{}.Command(c.device))
}

func (c *Client) onConnectionLost(err error) {
	c.setConnected(false)
	c.log.Warn("MQTT connection lost", "device", c.device, "error", err)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close marks the device offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.Availability(c.device), willQoS, true, []byte(availabilityOffline))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}
