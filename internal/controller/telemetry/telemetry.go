package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Name is the controller name used in logs.
const Name = "telemetry"

const mailboxSize = 256

// Writer is the subset of *influxdb.Client the controller needs.
type Writer interface {
	WriteCharacteristic(p influxdb.CharacteristicPoint)
	WriteConnectivity(accessoryID uuid.UUID, room string, online bool, at time.Time)
	Flush()
}

var _ Writer = (*influxdb.Client)(nil)

// Controller writes numeric characteristic values and connectivity
// transitions to a time-series store.
type Controller struct {
	controller.Inbox

	writer  Writer
	logger  *logging.Logger
	mailbox *actor.Mailbox[controller.Event]

	// rooms caches the room tag of each accessory seen connecting.
	rooms map[uuid.UUID]string
}

// New returns a telemetry controller. Call Run to start it.
func New(writer Writer, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	mailbox, inbox := controller.NewInbox(Name, mailboxSize)
	return &Controller{
		Inbox:   inbox,
		writer:  writer,
		logger:  logger.With("controller", Name),
		mailbox: mailbox,
		rooms:   make(map[uuid.UUID]string),
	}
}

// Run writes queued events until ctx is cancelled, then flushes.
func (c *Controller) Run(ctx context.Context) error {
	defer c.mailbox.Close()
	defer c.writer.Flush()

	for {
		select {
		case e := <-c.mailbox.Receive():
			c.write(e)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) write(e controller.Event) {
	switch e.Kind {
	case controller.EventConnected:
		c.rooms[e.AccessoryID] = e.Accessory.RoomName
		c.writer.WriteConnectivity(e.AccessoryID, e.Accessory.RoomName, true, e.At)

	case controller.EventDisconnected:
		c.writer.WriteConnectivity(e.AccessoryID, c.rooms[e.AccessoryID], false, e.At)
		delete(c.rooms, e.AccessoryID)

	case controller.EventUpdated:
		value, ok := accessory.Numeric(e.Characteristic)
		if !ok {
			c.logger.Debug("skipping non-numeric characteristic", "accessory_id", e.AccessoryID.String())
			return
		}
		c.writer.WriteCharacteristic(influxdb.CharacteristicPoint{
			AccessoryID:    e.AccessoryID,
			Room:           c.rooms[e.AccessoryID],
			Service:        e.Service,
			Characteristic: e.Characteristic.Name(),
			Value:          value,
			At:             e.At,
		})
	}
}
