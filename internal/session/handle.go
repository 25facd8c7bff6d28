package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/frame"
)

// message is the closed set of things a Session actor processes.
type message interface {
	sessionMessage()
}

type readRequest struct {
	accessoryID uuid.UUID
	service     accessory.ServiceName
	name        accessory.CharacteristicName
	reply       actor.Reply[actor.Result[accessory.Characteristic]]
}

type writeRequest struct {
	accessoryID    uuid.UUID
	service        accessory.ServiceName
	characteristic accessory.Characteristic
	reply          actor.Reply[error]
}

type inbound struct{ frame frame.Upstream }

type pong struct{}

type expire struct {
	id    frame.ID
	seq   uint64
	write bool
}

type pendingCount struct{ reply actor.Reply[int] }

type dropAccessory struct{ accessoryID uuid.UUID }

type transportFailed struct{ err error }

type closeRequest struct{}

func (readRequest) sessionMessage()     {}
func (writeRequest) sessionMessage()    {}
func (inbound) sessionMessage()         {}
func (pong) sessionMessage()            {}
func (expire) sessionMessage()          {}
func (pendingCount) sessionMessage()    {}
func (dropAccessory) sessionMessage()   {}
func (transportFailed) sessionMessage() {}
func (closeRequest) sessionMessage()    {}

// Handle is a copyable reference to a running Session.
type Handle struct {
	peerID uuid.UUID
	h      actor.Handle[message]
}

// PeerID is the authenticated identity on the other end.
func (h Handle) PeerID() uuid.UUID {
	return h.peerID
}

// Done is closed once the session has torn down.
func (h Handle) Done() <-chan struct{} {
	return h.h.Done()
}

// ReadCharacteristic sends a read-characteristic frame and waits for the
// matching result. At the accessory tier accessoryID is not put on the wire.
//
// The call resolves within the session's call timeout with the result,
// accessory.ErrTimeout, or accessory.ErrNotConnected if the session ends.
func (h Handle) ReadCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, name accessory.CharacteristicName) (accessory.Characteristic, error) {
	ch, err := actor.CallResult(ctx, h.h, func(r actor.Reply[actor.Result[accessory.Characteristic]]) message {
		return readRequest{accessoryID: accessoryID, service: service, name: name, reply: r}
	})
	return ch, notConnected(err)
}

// WriteCharacteristic sends a write-characteristic frame and waits for the
// matching result.
func (h Handle) WriteCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	result, err := actor.Call(ctx, h.h, func(r actor.Reply[error]) message {
		return writeRequest{accessoryID: accessoryID, service: service, characteristic: characteristic, reply: r}
	})
	if err != nil {
		return notConnected(err)
	}
	return result
}

// Pending returns the number of outstanding calls.
func (h Handle) Pending(ctx context.Context) (int, error) {
	n, err := actor.Call(ctx, h.h, func(r actor.Reply[int]) message {
		return pendingCount{reply: r}
	})
	return n, notConnected(err)
}

// FailAccessory resolves every outstanding call for accessoryID with
// accessory.ErrNotConnected. A hub owner uses it when the hub reports the
// accessory gone. Failing on a finished session is a no-op.
func (h Handle) FailAccessory(ctx context.Context, accessoryID uuid.UUID) error {
	err := h.h.Notify(ctx, dropAccessory{accessoryID: accessoryID})
	if errors.Is(err, actor.ErrClosed) {
		return nil
	}
	return err
}

// Close asks the session to shut down. Closing a finished session is a no-op.
func (h Handle) Close(ctx context.Context) error {
	err := h.h.Notify(ctx, closeRequest{})
	if errors.Is(err, actor.ErrClosed) {
		return nil
	}
	return err
}

func notConnected(err error) error {
	if errors.Is(err, actor.ErrClosed) {
		return accessory.ErrNotConnected
	}
	return err
}
