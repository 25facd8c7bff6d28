package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Client is a paho connection that publishes the daemon's retained status,
// restores command subscriptions after a reconnect and logs handler
// failures instead of dropping them silently.
//
// All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte
	topics   Topics
	logger   *logging.Logger

	// mu guards connected and subscriptions; paho calls the connection
	// handlers from its own goroutines.
	mu            sync.Mutex
	connected     bool
	subscriptions map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler is called for each received message. A returned error is
// logged with the topic and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker named in cfg and waits for the first CONNACK.
//
// The broker holds a retained "offline" Last Will on the daemon's status
// topic; "online" is published on every (re)connect. Returns
// ErrConnectionFailed if the broker is not reached within the connect
// timeout.
func Connect(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Client{
		clientID:      cfg.Broker.ClientID,
		qos:           byte(cfg.QoS),
		topics:        Topics{Prefix: cfg.TopicPrefix},
		logger:        logger.Component("mqtt").With("client_id", cfg.Broker.ClientID),
		subscriptions: make(map[string]subscription),
	}

	opts := clientOptions(cfg)
	setWill(opts, c.topics.Status(c.clientID), c.clientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnect runs asynchronously and may not have fired yet.
	c.setConnected(true)
	return c, nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) onConnect() {
	c.setConnected(true)
	restored := c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")
	c.logger.Info("MQTT connected", "restored_subscriptions", restored)
}

func (c *Client) onConnectionLost(err error) {
	c.setConnected(false)
	c.logger.Warn("MQTT connection lost", "error", err)
}

// publishStatus sends the retained daemon status without waiting for the
// acknowledgement.
func (c *Client) publishStatus(state, reason string) pahomqtt.Token {
	return c.paho.Publish(c.topics.Status(c.clientID), c.qos, true, statusPayload(c.clientID, state, reason))
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close marks the daemon offline and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown).WaitTimeout(operationTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMillis)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
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
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return connected && c.paho != nil && c.paho.IsConnected()
}

// deliver adapts handler to paho. Handler errors and panics are logged.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt message rejected", "topic", msg.Topic(), "error", err)
		}
	}
}
