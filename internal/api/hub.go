// File: internal/api/hub.go
package api

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/progress"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 1024
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local UI on another port; the server binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one status subscriber.
type wsClient struct {
	id   string
	hub  *StatusHub
	conn *websocket.Conn
	send chan []byte
}

// StatusHub polls the progress reader and pushes each changed snapshot to
// every WebSocket subscriber.
type StatusHub struct {
	reader   progress.Reader
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
	closed  bool
}

// NewStatusHub creates a hub. A non-positive interval defaults to 500ms.
func NewStatusHub(reader progress.Reader, interval time.Duration, logger *zap.Logger) *StatusHub {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StatusHub{
		reader:   reader,
		interval: interval,
		logger:   logger.Named("status_hub"),
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run polls until ctx is cancelled, then disconnects every client.
func (h *StatusHub) Run(ctx context.Context) {
	h.logger.Debug("Status hub started.")
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.logger.Debug("Status hub stopped.")
			return
		case <-ticker.C:
			h.poll()
		}
	}
}

// poll broadcasts the snapshot if it changed since the last broadcast.
func (h *StatusHub) poll() {
	msg, err := h.encode()
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if bytes.Equal(msg, h.last) {
		return
	}
	h.last = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow subscriber.
			h.removeLocked(c)
		}
	}
}

func (h *StatusHub) encode() ([]byte, error) {
	msg, err := json.Marshal(h.reader.Get())
	if err != nil {
		h.logger.Error("Failed to marshal status snapshot", zap.Error(err))
	}
	return msg, err
}

// ServeWS upgrades the request and subscribes the connection. The current
// snapshot is sent immediately.
func (h *StatusHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	c := &wsClient{id: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	if msg, err := h.encode(); err == nil {
		c.send <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Status subscriber connected.", zap.String("client_id", c.id))

	go c.writePump()
	go c.readPump()
}

// Clients reports the number of connected subscribers.
func (h *StatusHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *StatusHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("Status subscriber disconnected.", zap.String("client_id", c.id))
	}
}

func (h *StatusHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump drains control frames and detects disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Websocket client read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump pumps snapshots from the hub to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
