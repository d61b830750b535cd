// Package uifeed streams local state changes and game events to UI shells
// over WebSocket and accepts their input commands.
package uifeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/events"
	"github.com/mcdev12/classroom/go/internal/state"
)

// Message types sent to clients.
const (
	TypeState = "state"
	TypeEvent = "event"
	TypeReset = "reset"
	TypeError = "error"
)

// Message is one frame sent to a client.
type Message struct {
	Type  string        `json:"type"`
	Key   state.Key     `json:"key,omitempty"`
	Value any           `json:"value,omitempty"`
	Event *events.Event `json:"event,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Command is a frame received from a client, e.g. {"type":"type","value":"paris"}.
type Command struct {
	Type    string    `json:"type"`
	Value   string    `json:"value,omitempty"`
	Powerup string    `json:"powerup,omitempty"`
	Target  uuid.UUID `json:"target,omitempty"`
	// Amount carries a time limit in seconds or a score delta.
	Amount  int       `json:"amount,omitempty"`
}

// CommandHandler executes a client command. A returned error is reported
// back to the sending client only.
type CommandHandler func(ctx context.Context, cmd Command) error

// Config holds WebSocket settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// Hub fans messages out to every connected client.
type Hub struct {
	upgrader websocket.Upgrader
	config   Config
	handler  CommandHandler
	snapshot func() map[state.Key]any

	mu    sync.RWMutex
	conns map[*conn]bool

	broadcastCh chan Message
}

type conn struct {
	id          string
	ws          *websocket.Conn
	send        chan []byte
	hub         *Hub
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the connection is closing.
func (c *conn) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func NewHub(config Config, handler CommandHandler) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		handler:     handler,
		conns:       make(map[*conn]bool),
		broadcastCh: make(chan Message, 256),
	}
}

// Start delivers queued broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("ui feed started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("ui feed shutting down")
			return
		case msg := <-h.broadcastCh:
			h.deliver(msg)
		}
	}
}

// Broadcast queues msg for every client. It never blocks; a full queue drops msg.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcastCh <- msg:
	default:
		log.Warn().Str("type", msg.Type).Msg("ui feed queue full, dropping message")
	}
}

// BindStore forwards every store change, and sends new clients the current
// values of the given keys.
func (h *Hub) BindStore(store *state.Store, keys ...state.Key) state.Subscription {
	h.snapshot = func() map[state.Key]any {
		out := make(map[state.Key]any, len(keys))
		for _, k := range keys {
			out[k] = store.Get(k)
		}
		return out
	}
	return store.On(state.Wildcard, func(key state.Key, value, _ any) {
		if key == state.Wildcard {
			h.Broadcast(Message{Type: TypeReset})
			return
		}
		h.Broadcast(Message{Type: TypeState, Key: key, Value: value})
	})
}

// BindBus forwards every local event.
func (h *Hub) BindBus(bus *events.Bus) (off func()) {
	return bus.OnAny(func(e events.Event) {
		h.Broadcast(Message{Type: TypeEvent, Event: &e})
	})
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	c := &conn{
		id:          uuid.New().String(),
		ws:          ws,
		send:        make(chan []byte, 64),
		hub:         h,
		connectedAt: time.Now(),
	}
	h.register(c)

	if h.snapshot != nil {
		for k, v := range h.snapshot() {
			c.enqueue(Message{Type: TypeState, Key: k, Value: v})
		}
	}

	go c.writePump()
	go c.readPump()
	log.Info().Str("connection_id", c.id).Msg("ui client connected")
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		c.close()
		log.Info().Str("connection_id", c.id).Msg("ui client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

func (h *Hub) deliver(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal ui message")
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			log.Warn().Str("connection_id", c.id).Msg("client send buffer full, closing connection")
			h.unregister(c)
			c.ws.Close()
		}
	}
}

// enqueue is used before the write pump starts; it drops on a full buffer.
func (c *conn) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.handle(data)
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *conn) handle(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		c.reply(fmt.Errorf("malformed command"))
		return
	}
	if c.hub.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.WriteTimeout)
	defer cancel()
	if err := c.hub.handler(ctx, cmd); err != nil {
		log.Debug().Err(err).Str("command", cmd.Type).Msg("ui command failed")
		c.reply(err)
	}
}

func (c *conn) reply(err error) {
	data, _ := json.Marshal(Message{Type: TypeError, Error: err.Error()})
	c.trySend(data)
}
