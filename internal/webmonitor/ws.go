package webmonitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// AlertHub fans alert events out to WebSocket clients. Each client has its own
// buffered queue; a full queue drops the message for that client only.
type AlertHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	metrics  *metrics.Metrics
	snapshot func() AlertEvent
	closed   bool
}

// NewAlertHub creates a hub. snapshot provides the event sent on connect.
func NewAlertHub(snapshot func() AlertEvent, m *metrics.Metrics) *AlertHub {
	return &AlertHub{
		clients:  make(map[*wsClient]struct{}),
		metrics:  m,
		snapshot: snapshot,
	}
}

// ServeHTTP upgrades the connection and serves the client until it leaves.
func (h *AlertHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("AlertHub", "upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if h.snapshot != nil {
		if data, err := json.Marshal(h.snapshot()); err == nil {
			c.send <- data
		}
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *AlertHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.WebSocketClients.Store(int64(len(h.clients)))
	logger.Debug("AlertHub", "client connected (total: %d)", len(h.clients))
	return true
}

func (h *AlertHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.WebSocketClients.Store(int64(len(h.clients)))
	logger.Debug("AlertHub", "client disconnected (remaining: %d)", len(h.clients))
}

// readPump drains client messages so control frames are processed.
func (h *AlertHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("AlertHub", "read error: %v", err)
			}
			return
		}
	}
}

func (h *AlertHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues data for every connected client without blocking.
func (h *AlertHub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.metrics.SinkDrops.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *AlertHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.WebSocketClients.Store(0)
}
