package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub streams alerts to connected WebSocket dashboards. It is both an alert
// handler and the http.Handler that accepts the connections.
type Hub struct {
	logger ports.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub(logger ports.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*wsClient]bool)}
}

// Name implements ports.AlertHandler.
func (h *Hub) Name() string { return "websocket" }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle broadcasts the alert. A client whose buffer is full misses it.
func (h *Hub) Handle(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type":  "alert",
		"alert": alert,
	})
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	skipped := 0
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			skipped++
		}
	}
	if skipped > 0 {
		h.logger.Warn(ctx, "Slow websocket clients skipped alert", map[string]interface{}{"alertID": alert.ID, "skipped": skipped})
	}
	return nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), err, "Websocket upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientSendSize), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Info(r.Context(), "Websocket client connected", map[string]interface{}{"remote": r.RemoteAddr})

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump only services control frames; dashboards never send commands.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
