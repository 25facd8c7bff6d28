package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// EventsName is the controller name of the event stream.
const EventsName = "events"

// Stream channels. ChannelAll matches every channel.
const (
	ChannelConnected    = "accessory.connected"
	ChannelDisconnected = "accessory.disconnected"
	ChannelUpdated      = "characteristic.updated"
	ChannelAll          = "*"
)

// Stream message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgEvent       = "event"
	MsgResponse    = "response"
	MsgError       = "error"
)

const subscriberBuffer = 256

// StreamMessage is one JSON text frame on the event stream, in either
// direction.
type StreamMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// SubscribePayload carries the channels of a subscribe or unsubscribe
// request.
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

type streamRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans controller events out to event stream subscribers. Delivery
// never blocks the caller: a subscriber whose buffer is full misses the
// event and the miss is counted.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	dropped atomic.Uint64
}

var _ controller.Controller = (*Hub)(nil)

// NewHub returns an idle hub; Run must be started for shutdown to reach
// subscribers.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger.Component(EventsName),
		subs:   make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Name() string { return EventsName }

func (h *Hub) Connected(_ context.Context, acc accessory.Accessory) error {
	h.Broadcast(ChannelConnected, controller.Event{
		Kind:        controller.EventConnected,
		AccessoryID: acc.ID,
		Accessory:   &acc,
		At:          time.Now().UTC(),
	})
	return nil
}

func (h *Hub) Disconnected(_ context.Context, accessoryID uuid.UUID) error {
	h.Broadcast(ChannelDisconnected, controller.Event{
		Kind:        controller.EventDisconnected,
		AccessoryID: accessoryID,
		At:          time.Now().UTC(),
	})
	return nil
}

func (h *Hub) Updated(_ context.Context, accessoryID uuid.UUID, service accessory.ServiceName, c accessory.Characteristic) error {
	h.Broadcast(ChannelUpdated, controller.Event{
		Kind:           controller.EventUpdated,
		AccessoryID:    accessoryID,
		Service:        service,
		Characteristic: c,
		At:             time.Now().UTC(),
	})
	return nil
}

// Run waits for ctx and then ends every subscription.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.stop()
		delete(h.subs, sub)
	}
}

// Broadcast queues payload as an event on channel for every subscriber
// that wants it.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(StreamMessage{
		Type:      MsgEvent,
		EventType: channel,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(channel) {
			continue
		}
		if !sub.offer(data) {
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of open event streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("event subscriber joined", "subscribers", n)
}

func (h *Hub) remove(sub *subscriber) {
	sub.stop()
	h.mu.Lock()
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("event subscriber left", "subscribers", n)
}

// subscriber is one event stream. out is never closed; done signals the
// writer to stop.
type subscriber struct {
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

func newSubscriber(channels []string) *subscriber {
	s := &subscriber{
		out:      make(chan []byte, subscriberBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}, len(channels)),
	}
	s.set(channels, true)
	return s
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, all := s.channels[ChannelAll]
	_, one := s.channels[channel]
	return all || one
}

func (s *subscriber) set(channels []string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if on {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
}

// offer queues data without blocking and reports whether it was queued.
func (s *subscriber) offer(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// handleEvents upgrades to an event stream. Repeated "channels" query
// parameters subscribe before the first frame.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cors.allows(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err, "request_id", requestIDFrom(r.Context()))
		return
	}

	sub := newSubscriber(r.URL.Query()["channels"])
	s.hub.add(sub)
	go s.hub.pushEvents(conn, sub)
	go s.hub.readRequests(conn, sub)
}

// readRequests answers subscriber requests until the socket fails. Any
// frame or pong extends the idle deadline.
func (h *Hub) readRequests(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = conn.Close()
	}()

	idle := h.cfg.GetPingInterval() + h.cfg.GetPongTimeout()
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(idle)) }
	conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	conn.SetPongHandler(extend)
	_ = extend("")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("event stream read failed", "error", err)
			}
			return
		}
		_ = extend("")
		h.answer(sub, data)
	}
}

// pushEvents writes queued frames and keepalive pings until the
// subscriber stops or a write fails.
func (h *Hub) pushEvents(conn *websocket.Conn, sub *subscriber) {
	ping := time.NewTicker(h.cfg.GetPingInterval())
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()

	wait := h.cfg.GetWriteTimeout()
	for {
		select {
		case <-sub.done:
			bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(wait))
			return
		case data := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(wait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) answer(sub *subscriber, data []byte) {
	var req streamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(sub, "", MsgError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case MsgSubscribe, MsgUnsubscribe:
		var p SubscribePayload
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &p); err != nil {
				h.reply(sub, req.ID, MsgError, errorBody("invalid "+req.Type+" payload"))
				return
			}
		}
		on := req.Type == MsgSubscribe
		sub.set(p.Channels, on)
		key := "subscribed"
		if !on {
			key = "unsubscribed"
		}
		h.reply(sub, req.ID, MsgResponse, map[string][]string{key: p.Channels})
	case MsgPing:
		h.reply(sub, req.ID, MsgPong, nil)
	default:
		h.reply(sub, req.ID, MsgError, errorBody("unknown message type: "+req.Type))
	}
}

func (h *Hub) reply(sub *subscriber, id, kind string, payload any) {
	data, err := json.Marshal(StreamMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding reply", "type", kind, "error", err)
		return
	}
	if !sub.offer(data) {
		h.dropped.Add(1)
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
