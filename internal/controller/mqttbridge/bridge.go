package mqttbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/houseflow-core/internal/provider"
)

// Name is the controller name used in logs.
const Name = "mqtt"

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

const (
	defaultCommandTimeout = 10 * time.Second
	mailboxSize           = 256
)

// Broker is the subset of *mqtt.Client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

var _ Broker = (*mqtt.Client)(nil)

// Options configures a Bridge.
type Options struct {
	Broker Broker
	QoS    byte

	// Provider applies writes received on command topics. Commands are not
	// subscribed to when it is nil.
	Provider       provider.Provider
	CommandTimeout time.Duration

	Logger *logging.Logger
}

// Bridge mirrors accessory state onto retained MQTT topics and turns
// command messages into characteristic writes.
type Bridge struct {
	controller.Inbox

	broker         Broker
	topics         mqtt.Topics
	qos            byte
	provider       provider.Provider
	commandTimeout time.Duration
	logger         *logging.Logger
	mailbox        *actor.Mailbox[controller.Event]
}

// New returns a bridge. Call Run to subscribe and start publishing.
func New(opts Options) *Bridge {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	mailbox, inbox := controller.NewInbox(Name, mailboxSize)
	return &Bridge{
		Inbox:          inbox,
		broker:         opts.Broker,
		topics:         opts.Broker.Topics(),
		qos:            opts.QoS,
		provider:       opts.Provider,
		commandTimeout: opts.CommandTimeout,
		logger:         opts.Logger.With("controller", Name),
		mailbox:        mailbox,
	}
}

// Run subscribes to command topics and publishes queued events until ctx
// is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.mailbox.Close()

	if b.provider != nil {
		err := b.broker.Subscribe(b.topics.AllCommands(), b.qos, func(topic string, payload []byte) error {
			return b.command(ctx, topic, payload)
		})
		if err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	for {
		select {
		case e := <-b.mailbox.Receive():
			if err := b.publish(e); err != nil {
				b.logger.Warn("failed to publish event",
					"event", e.Kind.String(),
					"accessory_id", e.AccessoryID.String(),
					"error", err,
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) publish(e controller.Event) error {
	switch e.Kind {
	case controller.EventConnected:
		return b.broker.Publish(b.topics.Availability(e.AccessoryID), []byte(Online), b.qos, true)
	case controller.EventDisconnected:
		return b.broker.Publish(b.topics.Availability(e.AccessoryID), []byte(Offline), b.qos, true)
	case controller.EventUpdated:
		payload, err := accessory.MarshalCharacteristic(e.Characteristic)
		if err != nil {
			return err
		}
		return b.broker.Publish(b.topics.State(e.AccessoryID, e.Service, e.Characteristic.Name()), payload, b.qos, true)
	}
	return nil
}

// command applies one write received on a command topic.
func (b *Bridge) command(ctx context.Context, topic string, payload []byte) error {
	id, service, err := b.topics.ParseCommand(topic)
	if err != nil {
		return err
	}
	characteristic, err := accessory.UnmarshalCharacteristic(payload)
	if err != nil {
		return fmt.Errorf("command for %s: %w", id, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	defer cancel()
	if err := b.provider.WriteCharacteristic(ctx, id, service, characteristic); err != nil {
		return fmt.Errorf("writing %s on %s: %w", characteristic.Name(), id, err)
	}
	b.logger.Debug("applied mqtt command",
		"accessory_id", id.String(),
		"service", string(service),
		"characteristic", string(characteristic.Name()),
	)
	return nil
}
