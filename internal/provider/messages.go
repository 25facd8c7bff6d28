package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/auth"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/session"
)

// message is the closed set of things the WebSocket provider actor processes.
type message interface {
	providerMessage()
}

// admitRequest checks a peer before its password is verified.
type admitRequest struct {
	peerID uuid.UUID
	reply  actor.Reply[actor.Result[auth.Peer]]
}

// attachRequest registers an upgraded session. The reply carries the
// context the session should run under.
type attachRequest struct {
	handle session.Handle
	reply  actor.Reply[actor.Result[context.Context]]
}

type sessionEvent struct {
	peerID uuid.UUID
	frame  frame.Upstream
}

type sessionClosed struct {
	peerID uuid.UUID
	reason error
}

type connectedEvent struct {
	peerID    uuid.UUID
	accessory accessory.Accessory
}

// disconnectedEvent removes an accessory. A nil peerID matches any owner.
type disconnectedEvent struct {
	peerID      uuid.UUID
	accessoryID uuid.UUID
}

type resolveRequest struct {
	accessoryID uuid.UUID
	reply       actor.Reply[actor.Result[session.Handle]]
}

type isConnectedRequest struct {
	accessoryID uuid.UUID
	reply       actor.Reply[bool]
}

type configuration struct {
	accessory accessory.Accessory
	found     bool
}

type configurationRequest struct {
	accessoryID uuid.UUID
	reply       actor.Reply[configuration]
}

type statsRequest struct {
	reply actor.Reply[Stats]
}

func (admitRequest) providerMessage()         {}
func (attachRequest) providerMessage()        {}
func (sessionEvent) providerMessage()         {}
func (sessionClosed) providerMessage()        {}
func (connectedEvent) providerMessage()       {}
func (disconnectedEvent) providerMessage()    {}
func (resolveRequest) providerMessage()       {}
func (isConnectedRequest) providerMessage()   {}
func (configurationRequest) providerMessage() {}
func (statsRequest) providerMessage()         {}

// sessionOwner forwards session callbacks into the provider mailbox.
type sessionOwner struct {
	h actor.Handle[message]
}

func (o sessionOwner) SessionEvent(ctx context.Context, peerID uuid.UUID, f frame.Upstream) error {
	return o.h.Notify(ctx, sessionEvent{peerID: peerID, frame: f})
}

func (o sessionOwner) SessionClosed(ctx context.Context, peerID uuid.UUID, reason error) error {
	err := o.h.Notify(ctx, sessionClosed{peerID: peerID, reason: reason})
	if errors.Is(err, actor.ErrClosed) {
		// The provider stopped first; there is no registry left to update.
		return nil
	}
	return err
}
