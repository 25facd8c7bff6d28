package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
)

var (
	// ErrStopped is returned when an event is sent to a controller that has exited.
	ErrStopped = errors.New("controller: stopped")

	// ErrBacklogged is returned when a controller's mailbox stayed full
	// until the sender gave up. The event is dropped.
	ErrBacklogged = errors.New("controller: backlogged")
)

// EventKind distinguishes controller notifications.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventUpdated:
		return "updated"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a notification captured as a value so it can sit in a mailbox.
type Event struct {
	Kind        EventKind `json:"event"`
	AccessoryID uuid.UUID `json:"accessory-id"`

	// Accessory is set for EventConnected.
	Accessory *accessory.Accessory `json:"accessory,omitempty"`

	// Service and Characteristic are set for EventUpdated.
	Service        accessory.ServiceName    `json:"service-name,omitempty"`
	Characteristic accessory.Characteristic `json:"characteristic,omitempty"`

	At time.Time `json:"at"`
}

// Inbox implements Controller by queueing each notification as an Event
// on an actor mailbox. Stateful controllers embed it and drain the mailbox
// in their Run loop.
type Inbox struct {
	name    string
	h       actor.Handle[Event]
	dropped *atomic.Uint64
}

// NewInbox creates a mailbox of the given size and the Inbox feeding it.
func NewInbox(name string, size int) (*actor.Mailbox[Event], Inbox) {
	mailbox, h := actor.New[Event](size)
	return mailbox, Inbox{name: name, h: h, dropped: new(atomic.Uint64)}
}

// Name implements Controller.
func (i Inbox) Name() string {
	return i.name
}

// Connected implements Controller.
func (i Inbox) Connected(ctx context.Context, acc accessory.Accessory) error {
	return i.post(ctx, Event{Kind: EventConnected, AccessoryID: acc.ID, Accessory: &acc})
}

// Disconnected implements Controller.
func (i Inbox) Disconnected(ctx context.Context, accessoryID uuid.UUID) error {
	return i.post(ctx, Event{Kind: EventDisconnected, AccessoryID: accessoryID})
}

// Updated implements Controller.
func (i Inbox) Updated(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	return i.post(ctx, Event{Kind: EventUpdated, AccessoryID: accessoryID, Service: service, Characteristic: characteristic})
}

// Dropped returns how many events were lost to a full mailbox.
func (i Inbox) Dropped() uint64 {
	if i.dropped == nil {
		return 0
	}
	return i.dropped.Load()
}

// post waits for mailbox space only as long as ctx allows.
func (i Inbox) post(ctx context.Context, e Event) error {
	e.At = time.Now().UTC()
	err := i.h.Notify(ctx, e)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, actor.ErrClosed):
		return fmt.Errorf("%s: %w", i.name, ErrStopped)
	case ctx.Err() != nil:
		if i.dropped != nil {
			i.dropped.Add(1)
		}
		return fmt.Errorf("%s: %s event for %s: %w", i.name, e.Kind, e.AccessoryID, ErrBacklogged)
	default:
		return err
	}
}
