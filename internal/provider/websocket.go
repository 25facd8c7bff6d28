package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/auth"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/session"
)

// Provider names by tier.
const (
	NameHive       = "hive"
	NameLighthouse = "lighthouse"
)

// DefaultEventTimeout bounds how long one controller notification may hold
// up the registry.
const DefaultEventTimeout = 2 * time.Second

// Options configures a WebSocket provider.
type Options struct {
	// Name overrides the tier's default name.
	Name string

	Codec   frame.Codec
	Session session.Config

	// Peers are the identities allowed to connect.
	Peers auth.Directory

	// Accessories are statically configured descriptors. At the accessory
	// tier every peer must have one; it is announced when the peer attaches.
	Accessories []accessory.Accessory

	Controller controller.Controller

	// EventTimeout bounds each controller notification. Zero means
	// DefaultEventTimeout.
	EventTimeout time.Duration

	Logger *logging.Logger
}

// Stats is a snapshot of the registry.
type Stats struct {
	Name        string `json:"name"`
	Sessions    int    `json:"sessions"`
	Accessories int    `json:"accessories"`
}

// WebSocket is a Provider whose accessories are reached through sessions
// opened by connecting peers.
type WebSocket struct {
	name         string
	codec        frame.Codec
	sessionCfg   session.Config
	peers        auth.Directory
	controller   controller.Controller
	eventTimeout time.Duration
	logger       *logging.Logger
	upgrader     websocket.Upgrader

	mailbox *actor.Mailbox[message]
	handle  actor.Handle[message]

	// Owned by the actor goroutine.
	sessions map[uuid.UUID]session.Handle      // peer → session
	owners   map[uuid.UUID]uuid.UUID           // accessory → peer
	known    map[uuid.UUID]accessory.Accessory // accessory → last descriptor
}

// NewWebSocket builds a provider. Call Run to start its actor.
func NewWebSocket(opts Options) *WebSocket {
	name := opts.Name
	if name == "" {
		name = NameHive
		if opts.Codec.Tier == frame.TierHub {
			name = NameLighthouse
		}
	}
	cfg := opts.Session
	if cfg == (session.Config{}) {
		cfg = session.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	eventTimeout := opts.EventTimeout
	if eventTimeout <= 0 {
		eventTimeout = DefaultEventTimeout
	}

	known := make(map[uuid.UUID]accessory.Accessory, len(opts.Accessories))
	for _, acc := range opts.Accessories {
		known[acc.ID] = acc
	}

	mailbox, h := actor.New[message](actor.DefaultMailboxSize)
	return &WebSocket{
		name:         name,
		codec:        opts.Codec,
		sessionCfg:   cfg,
		peers:        opts.Peers,
		controller:   opts.Controller,
		eventTimeout: eventTimeout,
		logger:       logger.With("component", "provider", "provider", name),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mailbox:  mailbox,
		handle:   h,
		sessions: make(map[uuid.UUID]session.Handle),
		owners:   make(map[uuid.UUID]uuid.UUID),
		known:    known,
	}
}

// Name implements Provider.
func (p *WebSocket) Name() string {
	return p.name
}

// Run processes the mailbox until ctx is cancelled. Sessions attached to
// the provider run under ctx and end with it.
func (p *WebSocket) Run(ctx context.Context) error {
	defer p.mailbox.Close()

	p.logger.Info("provider running", "tier", p.codec.Tier.String(), "peers", len(p.peers))
	for {
		select {
		case msg := <-p.mailbox.Receive():
			p.handleMessage(ctx, msg)
		case <-ctx.Done():
			p.logger.Info("provider stopped", "sessions", len(p.sessions))
			return nil
		}
	}
}

// ReadCharacteristic implements Provider.
func (p *WebSocket) ReadCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, name accessory.CharacteristicName) (accessory.Characteristic, error) {
	h, err := p.resolve(ctx, accessoryID)
	if err != nil {
		return nil, err
	}
	return h.ReadCharacteristic(ctx, accessoryID, service, name)
}

// WriteCharacteristic implements Provider. Read-only characteristics are
// refused without contacting the accessory.
func (p *WebSocket) WriteCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	if characteristic == nil {
		return accessory.ErrInvalidCharacteristic
	}
	if !characteristic.Writable() {
		return accessory.ErrCharacteristicReadOnly
	}
	h, err := p.resolve(ctx, accessoryID)
	if err != nil {
		return err
	}
	return h.WriteCharacteristic(ctx, accessoryID, service, characteristic)
}

// IsConnected implements Provider.
func (p *WebSocket) IsConnected(ctx context.Context, accessoryID uuid.UUID) (bool, error) {
	ok, err := actor.Call(ctx, p.handle, func(r actor.Reply[bool]) message {
		return isConnectedRequest{accessoryID: accessoryID, reply: r}
	})
	return ok, closed(err)
}

// AccessoryConfiguration implements Provider.
func (p *WebSocket) AccessoryConfiguration(ctx context.Context, accessoryID uuid.UUID) (accessory.Accessory, bool, error) {
	c, err := actor.Call(ctx, p.handle, func(r actor.Reply[configuration]) message {
		return configurationRequest{accessoryID: accessoryID, reply: r}
	})
	return c.accessory, c.found, closed(err)
}

// Connected registers acc as owned by the peer sharing its ID.
func (p *WebSocket) Connected(ctx context.Context, acc accessory.Accessory) error {
	return closed(p.handle.Notify(ctx, connectedEvent{peerID: acc.ID, accessory: acc}))
}

// Disconnected removes acc from the registry. Unknown IDs are ignored.
func (p *WebSocket) Disconnected(ctx context.Context, accessoryID uuid.UUID) error {
	return closed(p.handle.Notify(ctx, disconnectedEvent{accessoryID: accessoryID}))
}

// Stats returns a registry snapshot.
func (p *WebSocket) Stats(ctx context.Context) (Stats, error) {
	s, err := actor.Call(ctx, p.handle, func(r actor.Reply[Stats]) message {
		return statsRequest{reply: r}
	})
	return s, closed(err)
}

func (p *WebSocket) resolve(ctx context.Context, accessoryID uuid.UUID) (session.Handle, error) {
	h, err := actor.CallResult(ctx, p.handle, func(r actor.Reply[actor.Result[session.Handle]]) message {
		return resolveRequest{accessoryID: accessoryID, reply: r}
	})
	if errors.Is(err, actor.ErrClosed) {
		return session.Handle{}, accessory.ErrNotConnected
	}
	return h, err
}

func closed(err error) error {
	if errors.Is(err, actor.ErrClosed) {
		return ErrClosed
	}
	return err
}

// ServeHTTP is the upgrade endpoint. The request must carry Basic
// credentials for a configured peer without a live session.
func (p *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	creds, err := session.ParseCredentials(r)
	if err != nil {
		p.refuse(w, r, err)
		return
	}
	logger := p.logger.With("peer_id", creds.ID.String(), "remote_addr", r.RemoteAddr)

	peer, err := actor.CallResult(r.Context(), p.handle, func(reply actor.Reply[actor.Result[auth.Peer]]) message {
		return admitRequest{peerID: creds.ID, reply: reply}
	})
	if err != nil {
		p.refuse(w, r, err)
		return
	}

	// Argon2 runs here, off the actor goroutine.
	if peer.Unprotected() {
		logger.Warn("peer has no password configured, accepting any password")
	}
	if err := peer.Authenticate(creds.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			logger.Error("stored password hash is unusable", "error", err)
		}
		p.refuse(w, r, session.NewConnectError(session.ConnectNotFound, "invalid credentials for peer %s", creds.ID))
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := session.New(conn, creds.ID, session.Options{
		Codec:  p.codec,
		Config: p.sessionCfg,
		Owner:  sessionOwner{h: p.handle},
		Logger: p.logger,
	})
	runCtx, err := actor.CallResult(r.Context(), p.handle, func(reply actor.Reply[actor.Result[context.Context]]) message {
		return attachRequest{handle: s.Handle(), reply: reply}
	})
	if err != nil {
		// Another session for this peer won the race; leave it untouched.
		logger.Warn("rejecting upgraded connection", "error", err)
		//nolint:errcheck // Best-effort close frame
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(session.ConnectAlreadyConnected)),
			time.Now().Add(p.sessionCfg.WriteTimeout))
		conn.Close()
		return
	}

	logger.Info("session attached")
	//nolint:errcheck // The session logs its own close reason
	s.Run(runCtx)
}

func (p *WebSocket) refuse(w http.ResponseWriter, r *http.Request, err error) {
	var refusal *session.ConnectError
	if !errors.As(err, &refusal) {
		p.logger.Warn("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "provider unavailable", http.StatusServiceUnavailable)
		return
	}
	p.logger.Info("refusing connection", "remote_addr", r.RemoteAddr, "reason", refusal.Kind, "description", refusal.Description)
	refusal.Write(w)
}

func (p *WebSocket) handleMessage(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case admitRequest:
		m.reply.Send(p.admit(m.peerID))
	case attachRequest:
		m.reply.Send(p.attach(ctx, m.handle))
	case sessionEvent:
		p.sessionEvent(ctx, m.peerID, m.frame)
	case sessionClosed:
		p.sessionClosed(ctx, m.peerID, m.reason)
	case connectedEvent:
		p.connected(ctx, m.peerID, m.accessory)
	case disconnectedEvent:
		p.disconnected(ctx, m.peerID, m.accessoryID)
	case resolveRequest:
		m.reply.Send(p.lookup(m.accessoryID))
	case isConnectedRequest:
		_, ok := p.owners[m.accessoryID]
		m.reply.Send(ok)
	case configurationRequest:
		acc, ok := p.known[m.accessoryID]
		m.reply.Send(configuration{accessory: acc, found: ok})
	case statsRequest:
		m.reply.Send(Stats{Name: p.name, Sessions: len(p.sessions), Accessories: len(p.owners)})
	}
}

func (p *WebSocket) admit(peerID uuid.UUID) actor.Result[auth.Peer] {
	peer, ok := p.peers.Lookup(peerID)
	if !ok {
		return actor.Result[auth.Peer]{Err: session.NewConnectError(session.ConnectNotFound, "peer %s is not configured", peerID)}
	}
	if _, live := p.sessions[peerID]; live {
		return actor.Result[auth.Peer]{Err: session.NewConnectError(session.ConnectAlreadyConnected, "peer %s already has a live session", peerID)}
	}
	return actor.Result[auth.Peer]{Value: peer}
}

func (p *WebSocket) attach(ctx context.Context, h session.Handle) actor.Result[context.Context] {
	peerID := h.PeerID()
	if _, live := p.sessions[peerID]; live {
		return actor.Result[context.Context]{Err: session.NewConnectError(session.ConnectAlreadyConnected, "peer %s already has a live session", peerID)}
	}
	p.sessions[peerID] = h

	if p.codec.Tier == frame.TierAccessory {
		acc, ok := p.known[peerID]
		if !ok {
			p.logger.Warn("accessory peer has no configured descriptor", "peer_id", peerID.String())
		} else {
			p.connected(ctx, peerID, acc)
		}
	}
	return actor.Result[context.Context]{Value: ctx}
}

func (p *WebSocket) lookup(accessoryID uuid.UUID) actor.Result[session.Handle] {
	peerID, ok := p.owners[accessoryID]
	if !ok {
		return actor.Result[session.Handle]{Err: accessory.ErrNotConnected}
	}
	h, ok := p.sessions[peerID]
	if !ok {
		return actor.Result[session.Handle]{Err: accessory.ErrNotConnected}
	}
	return actor.Result[session.Handle]{Value: h}
}

func (p *WebSocket) sessionEvent(ctx context.Context, peerID uuid.UUID, f frame.Upstream) {
	if _, ok := p.sessions[peerID]; !ok {
		p.logger.Debug("dropping event from detached session", "peer_id", peerID.String(), "type", f.Type())
		return
	}

	switch f := f.(type) {
	case frame.AccessoryConnected:
		p.connected(ctx, peerID, f.Accessory)
	case frame.AccessoryDisconnected:
		p.disconnected(ctx, peerID, f.AccessoryID)
	case frame.UpdateCharacteristic:
		accessoryID := f.AccessoryID
		if p.codec.Tier == frame.TierAccessory {
			if accessoryID != uuid.Nil && accessoryID != peerID {
				p.logger.Warn("accessory reported an update for another accessory",
					"peer_id", peerID.String(), "accessory_id", accessoryID.String())
				return
			}
			accessoryID = peerID
		}
		if owner, ok := p.owners[accessoryID]; !ok || owner != peerID {
			p.logger.Warn("dropping update for accessory not owned by peer",
				"peer_id", peerID.String(), "accessory_id", accessoryID.String())
			return
		}
		p.notify(ctx, "updated", accessoryID, func(ctx context.Context, c controller.Controller) error {
			return c.Updated(ctx, accessoryID, f.ServiceName, f.Characteristic)
		})
	default:
		p.logger.Debug("ignoring frame", "peer_id", peerID.String(), "type", f.Type())
	}
}

func (p *WebSocket) sessionClosed(ctx context.Context, peerID uuid.UUID, reason error) {
	if _, ok := p.sessions[peerID]; !ok {
		return
	}
	delete(p.sessions, peerID)

	for accessoryID, owner := range p.owners {
		if owner == peerID {
			p.disconnected(ctx, peerID, accessoryID)
		}
	}
	p.logger.Info("session detached", "peer_id", peerID.String(), "reason", reason)
}

func (p *WebSocket) connected(ctx context.Context, peerID uuid.UUID, acc accessory.Accessory) {
	if owner, ok := p.owners[acc.ID]; ok {
		if owner != peerID {
			p.logger.Error("accessory already owned by another peer",
				"accessory_id", acc.ID.String(),
				"owner_peer_id", owner.String(),
				"peer_id", peerID.String(),
				"error", ErrDuplicateOwner,
			)
			return
		}
		p.known[acc.ID] = acc
		p.logger.Debug("accessory re-announced", "accessory_id", acc.ID.String())
		return
	}

	p.owners[acc.ID] = peerID
	p.known[acc.ID] = acc
	p.logger.Info("accessory connected",
		"accessory_id", acc.ID.String(),
		"peer_id", peerID.String(),
		"accessory_type", acc.Type.String(),
	)
	p.notify(ctx, "connected", acc.ID, func(ctx context.Context, c controller.Controller) error {
		return c.Connected(ctx, acc)
	})
}

func (p *WebSocket) disconnected(ctx context.Context, peerID, accessoryID uuid.UUID) {
	owner, ok := p.owners[accessoryID]
	if !ok {
		p.logger.Debug("ignoring disconnect for accessory that is not connected", "accessory_id", accessoryID.String())
		return
	}
	if peerID != uuid.Nil && owner != peerID {
		p.logger.Warn("peer disconnected an accessory it does not own",
			"accessory_id", accessoryID.String(), "peer_id", peerID.String())
		return
	}

	delete(p.owners, accessoryID)
	p.logger.Info("accessory disconnected", "accessory_id", accessoryID.String())
	if h, live := p.sessions[owner]; live && p.codec.Tier == frame.TierHub {
		go p.failCalls(ctx, h, accessoryID)
	}
	p.notify(ctx, "disconnected", accessoryID, func(ctx context.Context, c controller.Controller) error {
		return c.Disconnected(ctx, accessoryID)
	})
}

// failCalls runs off the actor goroutine: the session may itself be waiting
// to deliver an event to this provider.
func (p *WebSocket) failCalls(ctx context.Context, h session.Handle, accessoryID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, p.sessionCfg.WriteTimeout)
	defer cancel()
	if err := h.FailAccessory(ctx, accessoryID); err != nil {
		p.logger.Warn("failed to cancel calls for disconnected accessory",
			"accessory_id", accessoryID.String(), "peer_id", h.PeerID().String(), "error", err)
	}
}

// notify runs on the actor goroutine. Each delivery is bounded by
// eventTimeout; a late controller loses the event.
func (p *WebSocket) notify(ctx context.Context, event string, accessoryID uuid.UUID, deliver func(context.Context, controller.Controller) error) {
	if p.controller == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.eventTimeout)
	defer cancel()
	if err := deliver(ctx, p.controller); err != nil {
		p.logger.Warn("controller failed to handle event",
			"event", event,
			"accessory_id", accessoryID.String(),
			"error", err,
		)
	}
}
