package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/logging"
)

// Message types on the WebSocket.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgEvent       = "event"
	MsgResponse    = "response"
	MsgError       = "error"
)

// Event types carried by MsgEvent.
const (
	// EventValues carries a batch of device.Change.
	EventValues = "values"

	// EventSnapshot carries the current values matching a new filter.
	EventSnapshot = "snapshot"
)

const (
	sendQueueSize    = 256
	defaultPing      = 30 * time.Second
	defaultWriteWait = 10 * time.Second
)

// Message is one WebSocket frame in either direction.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// inbound is a client frame with the payload left undecoded.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Filter selects the changes a client receives. Empty lists match
// everything; Paths are prefixes on "/" boundaries, so "/Ac/L1" matches
// "/Ac/L1/Power" but not "/Ac/L10".
type Filter struct {
	Services []string `json:"services,omitempty"`
	Paths    []string `json:"paths,omitempty"`
}

// Match reports whether the filter admits path on service.
func (f Filter) Match(service, path string) bool {
	if len(f.Services) > 0 && !contains(f.Services, service) {
		return false
	}
	if len(f.Paths) == 0 {
		return true
	}
	for _, p := range f.Paths {
		if p == "/" || path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DeviceValues is one device's entry in a snapshot event.
type DeviceValues struct {
	Service string             `json:"service"`
	Values  []device.PathValue `json:"values"`
}

// Hub streams device changes to WebSocket clients.
//
// A new client receives every change until it sends a subscribe frame
// with a Filter. Unsubscribe mutes the client until the next subscribe.
type Hub struct {
	cfg      config.WebSocketConfig
	registry *device.Registry
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// dropped counts frames discarded because a client's queue was full.
	dropped atomic.Uint64
}

// NewHub creates a hub serving snapshots from registry.
func NewHub(cfg config.WebSocketConfig, registry *device.Registry, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames lost to slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// BroadcastChanges is a device.ChangeListener. Each client receives only
// the changes its filter admits; a client admitting none gets no frame.
func (h *Hub) BroadcastChanges(changes []device.Change) {
	if len(changes) == 0 {
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	now := timestamp()
	for _, c := range clients {
		selected := c.selectChanges(changes)
		if len(selected) == 0 {
			continue
		}
		c.event(EventValues, selected, now)
	}
}

// snapshot returns the current values admitted by f, per device.
func (h *Hub) snapshot(f Filter) []DeviceValues {
	out := []DeviceValues{}
	for _, d := range h.registry.List() {
		name := d.ServiceName()
		var values []device.PathValue
		for _, pv := range d.Values() {
			if f.Match(name, pv.Path) {
				values = append(values, pv)
			}
		}
		if len(values) > 0 {
			out = append(out, DeviceValues{Service: name, Values: values})
		}
	}
	return out
}

// serve runs a client on an upgraded connection until either side closes it.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) timings() (ping, writeWait, readWindow time.Duration) {
	ping = time.Duration(h.cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPing
	}
	writeWait = time.Duration(h.cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return ping, writeWait, ping + writeWait
}

var upgrader = websocket.Upgrader{
	// The API is bound to the local network; browsers on any origin may
	// watch the stream.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.serve(conn)
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	// send is never closed; done tells writeLoop to stop.
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.RWMutex
	filter Filter
	muted  bool
}

func (c *wsClient) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsClient) selectChanges(changes []device.Change) []device.Change {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.muted {
		return nil
	}

	var out []device.Change
	for _, ch := range changes {
		if c.filter.Match(ch.Service, ch.Path) {
			out = append(out, ch)
		}
	}
	return out
}

func (c *wsClient) readLoop() {
	defer c.hub.remove(c)

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	_, _, window := c.hub.timings()
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(window)) }
	_ = extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = extend("") //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	ping, writeWait, _ := c.hub.timings()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // closing anyway
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", MsgError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case MsgPing:
		c.reply(msg.ID, MsgPong, nil)

	case MsgSubscribe:
		var f Filter
		if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				c.reply(msg.ID, MsgError, map[string]string{"message": "invalid filter: " + err.Error()})
				return
			}
		}
		c.mu.Lock()
		c.filter, c.muted = f, false
		c.mu.Unlock()

		c.reply(msg.ID, MsgResponse, map[string]any{"filter": f})
		c.event(EventSnapshot, c.hub.snapshot(f), timestamp())

	case MsgUnsubscribe:
		c.mu.Lock()
		c.muted = true
		c.mu.Unlock()
		c.reply(msg.ID, MsgResponse, map[string]any{"muted": true})

	default:
		c.reply(msg.ID, MsgError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) event(eventType string, payload any, at string) {
	c.enqueue(Message{Type: MsgEvent, EventType: eventType, Timestamp: at, Payload: payload})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	c.enqueue(Message{Type: msgType, ID: id, Timestamp: timestamp(), Payload: payload})
}

// enqueue drops the frame when the client is gone or its queue is full.
func (c *wsClient) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("encoding websocket message failed", "type", msg.Type, "error", err)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
