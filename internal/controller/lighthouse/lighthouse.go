package lighthouse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/provider"
	"github.com/nerrad567/houseflow-core/internal/session"
)

// Name is the controller name used in logs.
const Name = "lighthouse"

// Default reconnect bounds.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

const mailboxSize = 128

// Options configures the uplink.
type Options struct {
	// URL is the server's hub-tier upgrade endpoint, e.g. wss://server/websocket.
	URL         string
	Credentials session.Credentials
	Dialer      *websocket.Dialer
	Session     session.Config

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Provider answers requests arriving from the server.
	Provider provider.Provider
	Logger   *logging.Logger
}

type message interface{ lighthouseMessage() }

type eventMessage struct{ controller.Event }

type linkUp struct{ peer *session.Peer }

type linkDown struct{ peer *session.Peer }

type linkedRequest struct{ reply actor.Reply[bool] }

func (eventMessage) lighthouseMessage()  {}
func (linkUp) lighthouseMessage()        {}
func (linkDown) lighthouseMessage()      {}
func (linkedRequest) lighthouseMessage() {}

// Controller relays a hub's accessory events to the server over a
// hub-tier link, and serves the server's reads and writes through the
// hub's provider. The link is redialled with capped exponential backoff.
type Controller struct {
	opts    Options
	codec   frame.Codec
	logger  *logging.Logger
	mailbox *actor.Mailbox[message]
	h       actor.Handle[message]

	// Owned by the actor goroutine.
	online map[uuid.UUID]accessory.Accessory
	peer   *session.Peer
}

var _ controller.Controller = (*Controller)(nil)

// New returns an uplink controller. Call Run to start dialling.
func New(opts Options) *Controller {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.InitialBackoff)
	}
	if opts.Session == (session.Config{}) {
		opts.Session = session.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	mailbox, h := actor.New[message](mailboxSize)
	return &Controller{
		opts:    opts,
		codec:   frame.Codec{Tier: frame.TierHub},
		logger:  opts.Logger.With("controller", Name, "hub_id", opts.Credentials.ID.String()),
		mailbox: mailbox,
		h:       h,
		online:  make(map[uuid.UUID]accessory.Accessory),
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
	if err := c.h.Notify(ctx, eventMessage{e}); err != nil {
		if errors.Is(err, actor.ErrClosed) {
			return controller.ErrStopped
		}
		return err
	}
	return nil
}

// Linked reports whether the uplink is currently connected.
func (c *Controller) Linked(ctx context.Context) (bool, error) {
	linked, err := actor.Call(ctx, c.h, func(r actor.Reply[bool]) message {
		return linkedRequest{reply: r}
	})
	if errors.Is(err, actor.ErrClosed) {
		return false, controller.ErrStopped
	}
	return linked, err
}

// Run dials the server and relays events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dialled := make(chan struct{})
	go func() {
		defer close(dialled)
		c.dialLoop(ctx)
	}()

	defer func() {
		c.mailbox.Close()
		cancel()
		<-dialled
	}()

	c.logger.Info("uplink running", "url", c.opts.URL)
	for {
		select {
		case msg := <-c.mailbox.Receive():
			c.handle(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case eventMessage:
		c.apply(ctx, m.Event)

	case linkUp:
		c.peer = m.peer
		c.logger.Info("uplink connected, replaying accessories", "accessories", len(c.online))
		for _, acc := range c.online {
			c.send(ctx, frame.AccessoryConnected{Accessory: acc})
		}

	case linkDown:
		if c.peer == m.peer {
			c.peer = nil
		}

	case linkedRequest:
		m.reply.Send(c.peer != nil)
	}
}

func (c *Controller) apply(ctx context.Context, e controller.Event) {
	switch e.Kind {
	case controller.EventConnected:
		c.online[e.AccessoryID] = *e.Accessory
		c.send(ctx, frame.AccessoryConnected{Accessory: *e.Accessory})
	case controller.EventDisconnected:
		delete(c.online, e.AccessoryID)
		c.send(ctx, frame.AccessoryDisconnected{AccessoryID: e.AccessoryID})
	case controller.EventUpdated:
		c.send(ctx, frame.UpdateCharacteristic{
			AccessoryID:    e.AccessoryID,
			ServiceName:    e.Service,
			Characteristic: e.Characteristic,
		})
	}
}

// send forwards f on the current link. Frames are dropped while the link
// is down; the server learns the current set from the replay on reconnect.
func (c *Controller) send(ctx context.Context, f frame.Upstream) {
	if c.peer == nil {
		c.logger.Debug("uplink down, dropping event", "type", f.Type())
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.opts.Session.WriteTimeout)
	defer cancel()
	if err := c.peer.Send(sendCtx, f); err != nil {
		c.logger.Warn("failed to forward event", "type", f.Type(), "error", err)
	}
}

// dialLoop keeps one link open until ctx is cancelled.
func (c *Controller) dialLoop(ctx context.Context) {
	backoff := c.opts.InitialBackoff
	for {
		conn, err := session.Dial(ctx, c.opts.Dialer, c.opts.URL, c.opts.Credentials)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("uplink dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.InitialBackoff

		peer := session.NewPeer(conn, session.PeerOptions{
			Codec:   c.codec,
			Config:  c.opts.Session,
			Handler: requestHandler{c.opts.Provider},
			Logger:  c.logger,
		})
		ran := make(chan error, 1)
		go func() { ran <- peer.Run(ctx) }()

		if err := c.h.Notify(ctx, linkUp{peer: peer}); err != nil {
			conn.Close()
			<-ran
			return
		}
		err = <-ran
		//nolint:errcheck // The actor may have exited with ctx
		c.h.Notify(ctx, linkDown{peer: peer})

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("uplink lost", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// requestHandler serves server-originated requests through the hub's provider.
type requestHandler struct {
	provider provider.Provider
}

func (h requestHandler) ReadCharacteristic(ctx context.Context, req frame.ReadCharacteristic) (accessory.Characteristic, error) {
	return h.provider.ReadCharacteristic(ctx, req.AccessoryID, req.ServiceName, req.CharacteristicName)
}

func (h requestHandler) WriteCharacteristic(ctx context.Context, req frame.WriteCharacteristic) error {
	return h.provider.WriteCharacteristic(ctx, req.AccessoryID, req.ServiceName, req.Characteristic)
}
