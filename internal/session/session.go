package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/actor"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// maxFrameIDs is the size of the frame.ID space.
const maxFrameIDs = 1 << 16

// maxCloseReason is the longest close-frame reason text allowed by RFC 6455.
const maxCloseReason = 123

// Owner receives a session's events. The provider handle implements it with
// Notify, so neither call waits for the owner to process the event.
type Owner interface {
	// SessionEvent forwards an accessory-connected, accessory-disconnected or
	// update-characteristic frame received from the peer.
	SessionEvent(ctx context.Context, peerID uuid.UUID, f frame.Upstream) error

	// SessionClosed is called exactly once when the session has torn down.
	SessionClosed(ctx context.Context, peerID uuid.UUID, reason error) error
}

// Options configures a Session.
type Options struct {
	Codec  frame.Codec
	Config Config
	Owner  Owner
	Logger *logging.Logger
}

// Session is the owner-side actor for one WebSocket connection.
type Session struct {
	peerID uuid.UUID
	conn   *websocket.Conn
	codec  frame.Codec
	cfg    Config
	owner  Owner
	logger *logging.Logger

	mailbox *actor.Mailbox[message]
	handle  Handle

	outbound   chan outbound
	writerDone chan struct{}
	writeErr   error // set by the write pump before writerDone closes

	// Owned by the actor goroutine.
	reads    map[frame.ID]*pendingRead
	writes   map[frame.ID]*pendingWrite
	expired  map[frame.ID]time.Time
	seq      uint64
	lastSeen time.Time
}

type pendingRead struct {
	seq         uint64
	accessoryID uuid.UUID
	timer       *time.Timer
	reply       actor.Reply[actor.Result[accessory.Characteristic]]
}

type pendingWrite struct {
	seq         uint64
	accessoryID uuid.UUID
	timer       *time.Timer
	reply       actor.Reply[error]
}

type outbound struct {
	messageType int
	data        []byte
}

// New wraps an upgraded connection. Call Run to start it.
func New(conn *websocket.Conn, peerID uuid.UUID, opts Options) *Session {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	owner := opts.Owner
	if owner == nil {
		owner = nopOwner{}
	}

	mailbox, h := actor.New[message](actor.DefaultMailboxSize)
	return &Session{
		peerID:     peerID,
		conn:       conn,
		codec:      opts.Codec,
		cfg:        cfg,
		owner:      owner,
		logger:     logger.With("component", "session", "peer_id", peerID.String(), "tier", opts.Codec.Tier.String()),
		mailbox:    mailbox,
		handle:     Handle{peerID: peerID, h: h},
		outbound:   make(chan outbound),
		writerDone: make(chan struct{}),
		reads:      make(map[frame.ID]*pendingRead),
		writes:     make(map[frame.ID]*pendingWrite),
		expired:    make(map[frame.ID]time.Time),
	}
}

// Handle returns the session's handle. It may be used before Run starts.
func (s *Session) Handle() Handle {
	return s.handle
}

// Run drives the session until the connection fails, the heartbeat lapses,
// a protocol error occurs, the owner closes it, or ctx is cancelled. It
// returns the close reason.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.post(ctx, pong{})
		return nil
	})

	go s.readPump(ctx)
	go s.writePump(ctx)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	s.lastSeen = time.Now()

	s.logger.Info("session running")
	reason := s.loop(ctx, ticker.C)
	s.shutdown(ctx, reason)
	return reason
}

func (s *Session) loop(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case msg := <-s.mailbox.Receive():
			if err := s.handleMessage(ctx, msg); err != nil {
				return err
			}
		case now := <-tick:
			if err := s.heartbeat(ctx, now); err != nil {
				return err
			}
		case <-s.writerDone:
			return s.writerErr(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, msg message) error {
	switch m := msg.(type) {
	case readRequest:
		return s.startRead(ctx, m)
	case writeRequest:
		return s.startWrite(ctx, m)
	case inbound:
		s.lastSeen = time.Now()
		return s.handleFrame(ctx, m.frame)
	case pong:
		s.lastSeen = time.Now()
	case expire:
		s.expire(m)
	case pendingCount:
		m.reply.Send(len(s.reads) + len(s.writes))
	case dropAccessory:
		s.dropAccessory(m.accessoryID)
	case transportFailed:
		return m.err
	case closeRequest:
		return ErrClosedByOwner
	}
	return nil
}

func (s *Session) heartbeat(ctx context.Context, now time.Time) error {
	if silence := now.Sub(s.lastSeen); silence > s.cfg.PingTimeout {
		return fmt.Errorf("%w: no pong for %v", ErrHeartbeatTimeout, silence.Round(time.Millisecond))
	}
	s.pruneExpired(now)
	return s.send(ctx, outbound{messageType: websocket.PingMessage})
}

func (s *Session) startRead(ctx context.Context, m readRequest) error {
	id, err := s.allocateID()
	if err != nil {
		m.reply.Send(actor.Result[accessory.Characteristic]{Err: err})
		return nil
	}
	data, err := s.codec.Encode(frame.ReadCharacteristic{
		ID:                 id,
		AccessoryID:        m.accessoryID,
		ServiceName:        m.service,
		CharacteristicName: m.name,
	})
	if err != nil {
		m.reply.Send(actor.Result[accessory.Characteristic]{Err: err})
		return nil
	}

	seq := s.nextSeq()
	s.reads[id] = &pendingRead{seq: seq, accessoryID: m.accessoryID, reply: m.reply, timer: s.expireAfter(id, seq, false)}
	return s.send(ctx, outbound{messageType: websocket.TextMessage, data: data})
}

func (s *Session) startWrite(ctx context.Context, m writeRequest) error {
	id, err := s.allocateID()
	if err != nil {
		m.reply.Send(err)
		return nil
	}
	data, err := s.codec.Encode(frame.WriteCharacteristic{
		ID:             id,
		AccessoryID:    m.accessoryID,
		ServiceName:    m.service,
		Characteristic: m.characteristic,
	})
	if err != nil {
		m.reply.Send(err)
		return nil
	}

	seq := s.nextSeq()
	s.writes[id] = &pendingWrite{seq: seq, accessoryID: m.accessoryID, reply: m.reply, timer: s.expireAfter(id, seq, true)}
	return s.send(ctx, outbound{messageType: websocket.TextMessage, data: data})
}

func (s *Session) handleFrame(ctx context.Context, f frame.Upstream) error {
	switch f := f.(type) {
	case frame.ReadCharacteristicResult:
		p, ok := s.reads[f.ID]
		if !ok {
			return s.unmatched(f.ID, f.Type())
		}
		delete(s.reads, f.ID)
		p.timer.Stop()
		if f.Err != "" {
			p.reply.Send(actor.Result[accessory.Characteristic]{Err: f.Err})
		} else {
			p.reply.Send(actor.Result[accessory.Characteristic]{Value: f.Characteristic})
		}
	case frame.WriteCharacteristicResult:
		p, ok := s.writes[f.ID]
		if !ok {
			return s.unmatched(f.ID, f.Type())
		}
		delete(s.writes, f.ID)
		p.timer.Stop()
		var err error
		if f.Err != "" {
			err = f.Err
		}
		p.reply.Send(err)
	case frame.AccessoryConnected, frame.AccessoryDisconnected, frame.UpdateCharacteristic:
		if err := s.owner.SessionEvent(ctx, s.peerID, f); err != nil {
			return fmt.Errorf("forwarding %s to owner: %w", f.Type(), err)
		}
	default:
		return fmt.Errorf("%w: %T", frame.ErrUnexpectedFrame, f)
	}
	return nil
}

// unmatched handles a result with no pending entry. Results for calls that
// already timed out are dropped; anything else is a protocol error.
func (s *Session) unmatched(id frame.ID, t frame.Type) error {
	if _, ok := s.expired[id]; ok {
		delete(s.expired, id)
		s.logger.Warn("dropping late result", "frame_id", id, "type", t)
		return nil
	}
	return fmt.Errorf("%w: %s %d", ErrUnknownFrameID, t, id)
}

func (s *Session) expire(m expire) {
	if m.write {
		p, ok := s.writes[m.id]
		if !ok || p.seq != m.seq {
			return
		}
		delete(s.writes, m.id)
		p.reply.Send(accessory.ErrTimeout)
	} else {
		p, ok := s.reads[m.id]
		if !ok || p.seq != m.seq {
			return
		}
		delete(s.reads, m.id)
		p.reply.Send(actor.Result[accessory.Characteristic]{Err: accessory.ErrTimeout})
	}
	s.expired[m.id] = time.Now()
	s.logger.Warn("call timed out", "frame_id", m.id, "timeout", s.cfg.CallTimeout)
}

// dropAccessory fails the calls addressed to one accessory behind a hub.
// Their IDs stay reserved like timed-out ones so a late result is dropped.
func (s *Session) dropAccessory(accessoryID uuid.UUID) {
	now := time.Now()
	failed := 0
	for id, p := range s.reads {
		if p.accessoryID != accessoryID {
			continue
		}
		p.timer.Stop()
		delete(s.reads, id)
		s.expired[id] = now
		p.reply.Send(actor.Result[accessory.Characteristic]{Err: accessory.ErrNotConnected})
		failed++
	}
	for id, p := range s.writes {
		if p.accessoryID != accessoryID {
			continue
		}
		p.timer.Stop()
		delete(s.writes, id)
		s.expired[id] = now
		p.reply.Send(accessory.ErrNotConnected)
		failed++
	}
	if failed > 0 {
		s.logger.Info("failed calls for disconnected accessory", "accessory_id", accessoryID.String(), "calls", failed)
	}
}

// expireAfter schedules a timeout for a pending entry. The seq guards
// against expiring a later call that reused the same frame ID.
func (s *Session) expireAfter(id frame.ID, seq uint64, write bool) *time.Timer {
	return time.AfterFunc(s.cfg.CallTimeout, func() {
		s.post(context.Background(), expire{id: id, seq: seq, write: write})
	})
}

// pruneExpired forgets timed-out IDs once they have been dead for a full
// call timeout.
func (s *Session) pruneExpired(now time.Time) {
	for id, at := range s.expired {
		if now.Sub(at) > s.cfg.CallTimeout {
			delete(s.expired, id)
		}
	}
}

func (s *Session) allocateID() (frame.ID, error) {
	if len(s.reads)+len(s.writes)+len(s.expired) >= maxFrameIDs {
		return 0, ErrTooManyPending
	}
	for {
		id := frame.ID(rand.UintN(maxFrameIDs)) //nolint:gosec // correlation id, not a secret
		if !s.inUse(id) {
			return id, nil
		}
	}
}

func (s *Session) inUse(id frame.ID) bool {
	if _, ok := s.reads[id]; ok {
		return true
	}
	if _, ok := s.writes[id]; ok {
		return true
	}
	_, ok := s.expired[id]
	return ok
}

func (s *Session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// send hands a message to the write pump.
func (s *Session) send(ctx context.Context, out outbound) error {
	select {
	case s.outbound <- out:
		return nil
	case <-s.writerDone:
		return s.writerErr(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writerErr is the reason the write pump stopped. Only valid once
// writerDone is closed: the pump exits on a write error or on ctx.
func (s *Session) writerErr(ctx context.Context) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return ctx.Err()
}

// post delivers a message from a pump or timer to the actor. Messages posted
// after the actor exited are dropped.
func (s *Session) post(ctx context.Context, msg message) {
	//nolint:errcheck // a closed actor has nothing left to tell
	s.handle.h.Notify(ctx, msg)
}

func (s *Session) readPump(ctx context.Context) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.post(ctx, transportFailed{err: fmt.Errorf("reading frame: %w", err)})
			return
		}
		if messageType != websocket.TextMessage {
			s.post(ctx, transportFailed{err: ErrBinaryFrame})
			return
		}
		f, err := s.codec.DecodeUpstream(data)
		if err != nil {
			s.post(ctx, transportFailed{err: err})
			return
		}
		s.post(ctx, inbound{frame: f})
	}
}

// writePump owns all data writes. On failure it records the error and
// closes writerDone without touching the mailbox, so a full mailbox cannot
// hold up the actor's exit.
func (s *Session) writePump(ctx context.Context) {
	defer close(s.writerDone)
	for {
		select {
		case out := <-s.outbound:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(out.messageType, out.data); err != nil {
				s.writeErr = fmt.Errorf("writing frame: %w", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// shutdown fails every pending call, closes the connection and tells the
// owner. It runs on the actor goroutine after the loop has exited.
func (s *Session) shutdown(ctx context.Context, reason error) {
	s.mailbox.Close()
	s.drain()

	for id, p := range s.reads {
		p.timer.Stop()
		p.reply.Send(actor.Result[accessory.Characteristic]{Err: accessory.ErrNotConnected})
		delete(s.reads, id)
	}
	for id, p := range s.writes {
		p.timer.Stop()
		p.reply.Send(accessory.ErrNotConnected)
		delete(s.writes, id)
	}

	code, text := closeCode(reason)
	//nolint:errcheck // Best-effort close frame; the peer may already be gone
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(s.cfg.WriteTimeout))
	s.conn.Close()

	if isExpectedClose(reason) {
		s.logger.Info("session closed", "reason", reason)
	} else {
		s.logger.Warn("session closed", "reason", reason)
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.owner.SessionClosed(notifyCtx, s.peerID, reason); err != nil {
		s.logger.Warn("failed to notify owner of close", "error", err)
	}
}

// drain answers requests that were queued behind the close.
func (s *Session) drain() {
	for {
		select {
		case msg := <-s.mailbox.Receive():
			switch m := msg.(type) {
			case readRequest:
				m.reply.Send(actor.Result[accessory.Characteristic]{Err: accessory.ErrNotConnected})
			case writeRequest:
				m.reply.Send(accessory.ErrNotConnected)
			case pendingCount:
				m.reply.Send(0)
			}
		default:
			return
		}
	}
}

func closeCode(reason error) (int, string) {
	code := websocket.CloseNormalClosure
	switch {
	case errors.Is(reason, ErrBinaryFrame):
		code = websocket.CloseUnsupportedData
	case errors.Is(reason, frame.ErrDecode), errors.Is(reason, frame.ErrUnexpectedFrame), errors.Is(reason, ErrUnknownFrameID):
		code = websocket.CloseProtocolError
	case errors.Is(reason, context.Canceled):
		code = websocket.CloseGoingAway
	}
	text := ""
	if reason != nil {
		text = reason.Error()
	}
	if len(text) > maxCloseReason {
		text = text[:maxCloseReason]
	}
	return code, text
}

func isExpectedClose(reason error) bool {
	return errors.Is(reason, ErrClosedByOwner) ||
		errors.Is(reason, context.Canceled) ||
		websocket.IsCloseError(reason, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

type nopOwner struct{}

func (nopOwner) SessionEvent(context.Context, uuid.UUID, frame.Upstream) error { return nil }
func (nopOwner) SessionClosed(context.Context, uuid.UUID, error) error         { return nil }
