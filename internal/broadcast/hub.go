package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/game/card"
	"trick-room-server/internal/service"
	"trick-room-server/internal/session"
)

// ErrSlowConsumer is reported when a connection's send queue is full. The
// connection is closed; the client is expected to reconnect and resync.
var ErrSlowConsumer = errors.New("connection send queue full")

// Dispatcher is the part of the session manager the hub drives.
// *service.SessionManager satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, code string, cmd service.Command) (*service.Result, error)
	PlayerState(ctx context.Context, code, playerID string) (session.PlayerView, error)
}

// HubConfig tunes websocket connections.
type HubConfig struct {
	SendQueue      int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// Hub is the websocket sink. Each connection belongs to one player in one room
// and has its own buffered send queue drained by a writer goroutine.
type Hub struct {
	cfg        HubConfig
	dispatcher Dispatcher

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates a hub. SetDispatcher must be called before serving
// connections when the dispatcher is not known yet.
func NewHub(cfg HubConfig, dispatcher Dispatcher) *Hub {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:        cfg,
		dispatcher: dispatcher,
		rooms:      make(map[string]map[*client]struct{}),
	}
}

// SetDispatcher wires the command target. The manager publishes through the
// hub and the hub dispatches into the manager, so one of them is set late.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
}

type client struct {
	room   string
	player string
	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// kick closes the connection once; the read loop then unwinds.
func (c *client) kick(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		go func() { _ = c.ws.Close(status, reason) }()
	})
}

func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.kick(websocket.StatusPolicyViolation, "too slow")
		return false
	}
}

// inbound is a command sent over the socket. The player is always the
// connection's owner.
type inbound struct {
	Action service.Action `json:"action"`
	Value  int            `json:"value,omitempty"`
	Card   *card.Card     `json:"card,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// ServeWS upgrades the request and serves the connection until it closes.
// The caller has already checked that playerID belongs to room.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, room, playerID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		log.Warn().Err(err).Str("room", room).Str("player", playerID).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	c := &client{room: room, player: playerID, ws: ws, send: make(chan []byte, h.cfg.SendQueue)}
	h.add(c)
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)

	log.Info().Str("room", room).Str("player", playerID).Msg("WebSocket connected")
	h.sync(ctx, c)
	h.readLoop(ctx, c)
	log.Info().Str("room", room).Str("player", playerID).Msg("WebSocket disconnected")
}

// sync sends the player's current view so a reconnecting client can resume.
func (h *Hub) sync(ctx context.Context, c *client) {
	d := h.target()
	if d == nil {
		return
	}
	view, err := d.PlayerState(ctx, c.room, c.player)
	if err != nil {
		log.Debug().Err(err).Str("room", c.room).Str("player", c.player).Msg("No session to sync")
		return
	}
	h.deliver(c, Message{Type: TypePlayerState, Room: c.room, Seq: view.Public.Seq, Round: view.Public.Round, Payload: view})
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Debug().Err(err).Str("room", c.room).Str("player", c.player).Msg("WebSocket read ended")
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.reject(c, "", fmt.Errorf("malformed command: %w", err))
			continue
		}
		d := h.target()
		if d == nil {
			h.reject(c, string(in.Action), errors.New("server is starting, retry"))
			continue
		}

		cmd := service.Command{Action: in.Action, PlayerID: c.player, Value: in.Value, Card: in.Card, Reason: in.Reason}
		if _, err := d.Dispatch(ctx, c.room, cmd); err != nil {
			h.reject(c, string(in.Action), err)
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("room", c.room).Str("player", c.player).Msg("WebSocket write failed")
				c.kick(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.kick(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// reject sends an error to the offending connection only.
func (h *Hub) reject(c *client, action string, err error) {
	h.deliver(c, Message{Type: TypeError, Room: c.room, Payload: ErrorPayload{Action: action, Error: err.Error()}})
}

func (h *Hub) deliver(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode message")
		return
	}
	c.enqueue(data)
}

func (h *Hub) target() Dispatcher {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dispatcher
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[c.room]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[c.room] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[c.room]
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, c.room)
	}
}

func (h *Hub) clients(room, playerID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*client
	for c := range h.rooms[room] {
		if playerID == "" || c.player == playerID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) fanout(clients []*client, msg Message) error {
	if len(clients) == 0 {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	dropped := 0
	for _, c := range clients {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d connections", ErrSlowConsumer, dropped, len(clients))
	}
	return nil
}

// SendRoom implements Sink.
func (h *Hub) SendRoom(_ context.Context, room string, msg Message) error {
	return h.fanout(h.clients(room, ""), msg)
}

// SendPlayer implements Sink. A player without a connection is not an error.
func (h *Hub) SendPlayer(_ context.Context, room, playerID string, msg Message) error {
	return h.fanout(h.clients(room, playerID), msg)
}

// Connections returns the number of open connections in room.
func (h *Hub) Connections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.rooms {
		for c := range set {
			c.kick(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
