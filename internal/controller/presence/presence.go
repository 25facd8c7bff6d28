package presence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Name is the controller name used in logs.
const Name = "presence"

const (
	mailboxSize  = 256
	writeTimeout = 5 * time.Second
)

// Store persists presence.
type Store interface {
	Reset(ctx context.Context) error
	MarkOnline(ctx context.Context, acc accessory.Accessory, at time.Time) error
	MarkOffline(ctx context.Context, id uuid.UUID, at time.Time) error
	SetState(ctx context.Context, id uuid.UUID, service accessory.ServiceName, c accessory.Characteristic, at time.Time) error
}

// Controller mirrors connectivity and last-known values into a Store so
// that other services can read them without going through the server.
type Controller struct {
	controller.Inbox

	store   Store
	logger  *logging.Logger
	mailbox *actor.Mailbox[controller.Event]
}

// New returns a presence controller. Call Run to start it.
func New(store Store, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	mailbox, inbox := controller.NewInbox(Name, mailboxSize)
	return &Controller{
		Inbox:   inbox,
		store:   store,
		logger:  logger.With("controller", Name),
		mailbox: mailbox,
	}
}

// Run resets the online set, then applies queued events until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.mailbox.Close()

	if err := c.store.Reset(ctx); err != nil {
		c.logger.Warn("failed to reset presence", "error", err)
	}

	for {
		select {
		case e := <-c.mailbox.Receive():
			if err := c.apply(ctx, e); err != nil {
				c.logger.Warn("failed to store presence",
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

func (c *Controller) apply(ctx context.Context, e controller.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	switch e.Kind {
	case controller.EventConnected:
		return c.store.MarkOnline(ctx, *e.Accessory, e.At)
	case controller.EventDisconnected:
		return c.store.MarkOffline(ctx, e.AccessoryID, e.At)
	case controller.EventUpdated:
		return c.store.SetState(ctx, e.AccessoryID, e.Service, e.Characteristic, e.At)
	}
	return nil
}
