package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// RequestHandler answers requests arriving on a Peer link.
type RequestHandler interface {
	ReadCharacteristic(ctx context.Context, req frame.ReadCharacteristic) (accessory.Characteristic, error)
	WriteCharacteristic(ctx context.Context, req frame.WriteCharacteristic) error
}

// DefaultMaxInFlight is the number of requests a Peer serves at once.
const DefaultMaxInFlight = 64

// PeerOptions configures a Peer.
type PeerOptions struct {
	Codec   frame.Codec
	Config  Config
	Handler RequestHandler

	// MaxInFlight caps concurrent handler calls. Once reached the read
	// loop stops taking frames until a call finishes. Zero means
	// DefaultMaxInFlight.
	MaxInFlight int

	Logger *logging.Logger
}

// Peer is the dialing side of a session link. It answers pings, serves
// read and write requests through its RequestHandler and sends events.
type Peer struct {
	conn    *websocket.Conn
	codec   frame.Codec
	cfg     Config
	handler RequestHandler
	logger  *logging.Logger

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	inFlight  *semaphore.Weighted
	requests  sync.WaitGroup
}

// NewPeer wraps a dialled connection. Call Run to start it.
func NewPeer(conn *websocket.Conn, opts PeerOptions) *Peer {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Peer{
		conn:     conn,
		codec:    opts.Codec,
		cfg:      cfg,
		handler:  opts.Handler,
		logger:   logger.With("component", "peer", "tier", opts.Codec.Tier.String()),
		outbound: make(chan []byte),
		done:     make(chan struct{}),
		inFlight: semaphore.NewWeighted(int64(maxInFlight)),
	}
}

// Done is closed when Run has stopped accepting frames.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Send encodes and writes an event frame. It blocks until the write pump
// takes the frame, so it is only useful while Run is active.
func (p *Peer) Send(ctx context.Context, f frame.Upstream) error {
	data, err := p.codec.Encode(f)
	if err != nil {
		return err
	}
	select {
	case p.outbound <- data:
		return nil
	case <-p.done:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves the link until the connection fails or ctx is cancelled.
// In-flight requests are waited for before it returns.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.conn.SetReadLimit(p.cfg.MaxMessageSize)
	p.extendDeadline()
	p.conn.SetPingHandler(func(appData string) error {
		p.extendDeadline()
		err := p.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(p.cfg.WriteTimeout))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || errors.As(err, &netErr) {
			return nil
		}
		return err
	})

	errs := make(chan error, 2)
	go func() { errs <- p.readLoop(ctx) }()
	go func() { errs <- p.writePump(ctx) }()

	var reason error
	select {
	case reason = <-errs:
	case <-ctx.Done():
		reason = ctx.Err()
	}

	p.closeOnce.Do(func() { close(p.done) })
	cancel()
	//nolint:errcheck // Best-effort close frame
	p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(p.cfg.WriteTimeout))
	p.conn.Close()
	p.requests.Wait()

	p.logger.Info("peer link closed", "reason", reason)
	return reason
}

func (p *Peer) extendDeadline() {
	//nolint:errcheck // Best-effort deadline; read error caught by the read loop
	p.conn.SetReadDeadline(time.Now().Add(p.cfg.PingTimeout))
}

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if messageType != websocket.TextMessage {
			return ErrBinaryFrame
		}
		req, err := p.codec.DecodeDownstream(data)
		if err != nil {
			return err
		}
		p.extendDeadline()

		if err := p.inFlight.Acquire(ctx, 1); err != nil {
			return err
		}
		p.requests.Add(1)
		go func() {
			defer p.requests.Done()
			defer p.inFlight.Release(1)
			p.serve(ctx, req)
		}()
	}
}

func (p *Peer) writePump(ctx context.Context) error {
	for {
		select {
		case data := <-p.outbound:
			//nolint:errcheck // Best-effort deadline; write error caught below
			p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Peer) serve(ctx context.Context, req frame.Downstream) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	var resp frame.Upstream
	switch r := req.(type) {
	case frame.ReadCharacteristic:
		ch, err := p.handler.ReadCharacteristic(callCtx, r)
		if err == nil && ch == nil {
			err = accessory.ErrCharacteristicNotSupported
		}
		resp = frame.ReadCharacteristicResult{ID: r.ID, Characteristic: ch, Err: p.failure(err)}
	case frame.WriteCharacteristic:
		err := p.handler.WriteCharacteristic(callCtx, r)
		resp = frame.WriteCharacteristicResult{ID: r.ID, Err: p.failure(err)}
	default:
		p.logger.Warn("ignoring unexpected request", "type", fmt.Sprintf("%T", req))
		return
	}

	if err := p.Send(ctx, resp); err != nil {
		p.logger.Debug("dropping result", "type", resp.Type(), "error", err)
	}
}

// failure maps a handler error onto the wire error kinds.
func (p *Peer) failure(err error) accessory.Error {
	if err == nil {
		return ""
	}
	if kind, ok := accessory.AsError(err); ok {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return accessory.ErrTimeout
	}
	p.logger.Warn("request handler failed", "error", err)
	return accessory.ErrNotConnected
}
