package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillsync-io/tillsync/internal/events"
	"github.com/tillsync-io/tillsync/internal/logging"
)

const (
	// clientBuffer is the per-client send queue; a client that falls this
	// far behind is disconnected rather than allowed to stall the hub.
	clientBuffer = 256

	// busBuffer is the hub's subscription depth on the event bus.
	busBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients send no Origin; browsers must be local.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return isLoopback(u.Host)
	},
}

func isLoopback(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// WSClient represents one WebSocket subscriber connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans engine events out to connected WebSocket clients. It
// subscribes to the event bus and forwards every event as an envelope;
// clients cannot send anything meaningful back, the stream is one-way.
type WSHub struct {
	bus        *events.Bus
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	stopCh     chan struct{}
	wg         sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*WSClient
	started bool
	stopped bool
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewWSHub creates a hub bridging the event bus to WebSocket clients.
// The bus may be nil; the hub then only carries explicit broadcasts.
func NewWSHub(bus *events.Bus) *WSHub {
	return &WSHub{
		bus:        bus,
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the fan-out loop and the event bus bridge.
func (h *WSHub) Start() {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run()

	if h.bus != nil {
		ch, cancel := h.bus.Subscribe(busBuffer)
		h.wg.Add(1)
		go h.bridge(ch, cancel)
	}
}

// Close stops the loops and disconnects every client. Safe to call once
// after Start; a hub that never started closes trivially.
func (h *WSHub) Close() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()

	close(h.stopCh)
	if started {
		h.wg.Wait()
	}
}

// bridge forwards engine events into the broadcast channel.
func (h *WSHub) bridge(ch <-chan events.Event, cancel func()) {
	defer h.wg.Done()
	defer cancel()

	for {
		select {
		case <-h.stopCh:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(string(evt.Type), evt.Data)
		}
	}
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends one envelope to every connected client.
func (h *WSHub) Broadcast(messageType string, data interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err, map[string]interface{}{
			"type": messageType,
		})
		return
	}

	select {
	case h.broadcast <- bytes:
	case <-h.stopCh:
	}
}

// readPump drains the WebSocket connection. Inbound frames only keep the
// connection alive and surface the peer closing.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopCh:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		id:   time.Now().Format("20060102150405") + "-" + r.RemoteAddr,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.stopCh:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
