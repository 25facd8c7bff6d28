package status

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Name is the controller name used in logs.
const Name = "status"

const mailboxSize = 128

// ErrUnknownAccessory is returned by Accessory for an id never seen.
var ErrUnknownAccessory = errors.New("status: unknown accessory")

// Snapshot is the last-known state of one accessory.
type Snapshot struct {
	Accessory accessory.Accessory `json:"accessory"`
	Online    bool                `json:"online"`
	LastSeen  time.Time           `json:"last-seen"`

	// Services holds the latest value of every characteristic reported.
	Services map[accessory.ServiceName]map[accessory.CharacteristicName]accessory.Characteristic `json:"services"`
}

func (s *Snapshot) clone() Snapshot {
	out := *s
	out.Services = make(map[accessory.ServiceName]map[accessory.CharacteristicName]accessory.Characteristic, len(s.Services))
	for name, chars := range s.Services {
		out.Services[name] = maps.Clone(chars)
	}
	return out
}

type message interface{ statusMessage() }

type eventMessage struct{ controller.Event }

type listRequest struct {
	reply actor.Reply[[]Snapshot]
}

type getRequest struct {
	id    uuid.UUID
	reply actor.Reply[actor.Result[Snapshot]]
}

func (eventMessage) statusMessage() {}
func (listRequest) statusMessage()  {}
func (getRequest) statusMessage()   {}

// Controller keeps the last-known state of every accessory it has heard of.
type Controller struct {
	mailbox *actor.Mailbox[message]
	h       actor.Handle[message]
	logger  *logging.Logger

	// Owned by the Run goroutine.
	accessories map[uuid.UUID]*Snapshot
}

var _ controller.Controller = (*Controller)(nil)

// New returns a status controller. Call Run to start it.
func New(logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	mailbox, h := actor.New[message](mailboxSize)
	return &Controller{
		mailbox:     mailbox,
		h:           h,
		logger:      logger.With("controller", Name),
		accessories: make(map[uuid.UUID]*Snapshot),
	}
}

// Name implements controller.Controller.
func (c *Controller) Name() string { return Name }

// Connected implements controller.Controller.
func (c *Controller) Connected(ctx context.Context, acc accessory.Accessory) error {
	return c.post(ctx, controller.Event{Kind: controller.EventConnected, AccessoryID: acc.ID, Accessory: &acc})
}

// Disconnected implements controller.Controller.
func (c *Controller) Disconnected(ctx context.Context, accessoryID uuid.UUID) error {
	return c.post(ctx, controller.Event{Kind: controller.EventDisconnected, AccessoryID: accessoryID})
}

// Updated implements controller.Controller.
func (c *Controller) Updated(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	return c.post(ctx, controller.Event{
		Kind:           controller.EventUpdated,
		AccessoryID:    accessoryID,
		Service:        service,
		Characteristic: characteristic,
	})
}

func (c *Controller) post(ctx context.Context, e controller.Event) error {
	e.At = time.Now().UTC()
	if err := c.h.Notify(ctx, eventMessage{e}); err != nil {
		if errors.Is(err, actor.ErrClosed) {
			return controller.ErrStopped
		}
		return err
	}
	return nil
}

// Accessories returns every known accessory ordered by room then name.
func (c *Controller) Accessories(ctx context.Context) ([]Snapshot, error) {
	list, err := actor.Call(ctx, c.h, func(r actor.Reply[[]Snapshot]) message {
		return listRequest{reply: r}
	})
	if errors.Is(err, actor.ErrClosed) {
		return nil, controller.ErrStopped
	}
	return list, err
}

// Accessory returns the snapshot of a single accessory.
func (c *Controller) Accessory(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	snap, err := actor.CallResult(ctx, c.h, func(r actor.Reply[actor.Result[Snapshot]]) message {
		return getRequest{id: id, reply: r}
	})
	if errors.Is(err, actor.ErrClosed) {
		return Snapshot{}, controller.ErrStopped
	}
	return snap, err
}

// Run processes events and queries until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.mailbox.Close()

	for {
		select {
		case msg := <-c.mailbox.Receive():
			c.handle(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) handle(msg message) {
	switch m := msg.(type) {
	case eventMessage:
		c.apply(m.Event)
	case listRequest:
		out := make([]Snapshot, 0, len(c.accessories))
		for _, s := range c.accessories {
			out = append(out, s.clone())
		}
		slices.SortFunc(out, func(a, b Snapshot) int {
			if n := strings.Compare(a.Accessory.RoomName, b.Accessory.RoomName); n != 0 {
				return n
			}
			if n := strings.Compare(a.Accessory.Name, b.Accessory.Name); n != 0 {
				return n
			}
			return strings.Compare(a.Accessory.ID.String(), b.Accessory.ID.String())
		})
		m.reply.Send(out)
	case getRequest:
		s, ok := c.accessories[m.id]
		if !ok {
			m.reply.Send(actor.Result[Snapshot]{Err: ErrUnknownAccessory})
			return
		}
		m.reply.Send(actor.Result[Snapshot]{Value: s.clone()})
	}
}

func (c *Controller) apply(e controller.Event) {
	s, known := c.accessories[e.AccessoryID]

	switch e.Kind {
	case controller.EventConnected:
		if !known {
			s = &Snapshot{Services: make(map[accessory.ServiceName]map[accessory.CharacteristicName]accessory.Characteristic)}
			c.accessories[e.AccessoryID] = s
		}
		s.Accessory = *e.Accessory
		s.Online = true
		s.LastSeen = e.At

	case controller.EventDisconnected:
		if !known {
			c.logger.Debug("disconnect for unknown accessory", "accessory_id", e.AccessoryID.String())
			return
		}
		s.Online = false
		s.LastSeen = e.At

	case controller.EventUpdated:
		if !known {
			// Updates only flow over a live session, so the accessory is online
			// even if its connect notification was missed.
			s = &Snapshot{
				Accessory: accessory.Accessory{ID: e.AccessoryID},
				Online:    true,
				Services:  make(map[accessory.ServiceName]map[accessory.CharacteristicName]accessory.Characteristic),
			}
			c.accessories[e.AccessoryID] = s
		}
		chars, ok := s.Services[e.Service]
		if !ok {
			chars = make(map[accessory.CharacteristicName]accessory.Characteristic)
			s.Services[e.Service] = chars
		}
		chars[e.Characteristic.Name()] = e.Characteristic
		s.LastSeen = e.At
	}
}
