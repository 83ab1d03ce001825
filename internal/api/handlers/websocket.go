package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/reconradar/internal/api/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	bufferSize     = 16
)

// Message types sent to websocket clients.
const (
	MessageDevices   = "devices"
	MessageScanSaved = "scan_saved"
)

// WebSocketMessage is the frame sent to clients.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SnapshotFunc produces the device snapshot pushed to clients.
type SnapshotFunc func(ctx context.Context) (DevicesResponse, error)

// ClientGauge is told how many clients are connected;
// *metrics.PrometheusMetrics implements it.
type ClientGauge interface {
	SetWebSocketClients(count int)
}

// WebSocketHandler pushes a device snapshot to every connected client when
// it connects, on every refresh tick, and whenever Notify is called.
type WebSocketHandler struct {
	logger   *slog.Logger
	snapshot SnapshotFunc
	refresh  time.Duration
	gauge    ClientGauge
	upgrader websocket.Upgrader

	clients map[*client]struct{}
	mutex   sync.RWMutex

	register   chan *client
	unregister chan *client
	notify     chan string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWebSocketHandler creates the hub. Run must be started for clients to
// receive anything.
func NewWebSocketHandler(snapshot SnapshotFunc, refresh time.Duration, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		logger:   logger.With("handler", "websocket"),
		snapshot: snapshot,
		refresh:  refresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		notify:     make(chan string, bufferSize),
	}
}

// WithGauge reports the client count to g.
func (h *WebSocketHandler) WithGauge(g ClientGauge) *WebSocketHandler {
	h.gauge = g
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	h.logger.Debug("WebSocket client connected", "request_id", requestID, "remote_addr", r.RemoteAddr)

	c := &client{conn: conn, send: make(chan []byte, bufferSize)}
	h.register <- c

	go h.writePump(c)
	h.readPump(c)
}

// Notify makes the hub push a fresh snapshot, tagged with the reason.
func (h *WebSocketHandler) Notify(reason string) {
	select {
	case h.notify <- reason:
	default:
		h.logger.Warn("WebSocket notify channel full, dropping update", "reason", reason)
	}
}

// Run manages clients and pushes snapshots until ctx is done.
func (h *WebSocketHandler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			h.mutex.Unlock()
			h.reportClients()
			h.push(ctx, MessageDevices, c)

		case c := <-h.unregister:
			h.remove(c)

		case reason := <-h.notify:
			h.push(ctx, reason)

		case <-ticker.C:
			h.push(ctx, MessageDevices)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// push sends a snapshot to the given clients, or to all when none are given.
func (h *WebSocketHandler) push(ctx context.Context, msgType string, only ...*client) {
	targets := only
	if len(targets) == 0 {
		h.mutex.RLock()
		for c := range h.clients {
			targets = append(targets, c)
		}
		h.mutex.RUnlock()
	}
	if len(targets) == 0 {
		return
	}

	snap, err := h.snapshot(ctx)
	if err != nil {
		h.logger.Warn("Failed to build device snapshot", "error", err)
		return
	}
	data, err := encodeMessage(msgType, snap)
	if err != nil {
		h.logger.Error("Failed to encode device snapshot", "error", err)
		return
	}

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("Slow WebSocket client dropped")
			h.remove(c)
		}
	}
}

func encodeMessage(msgType string, data interface{}) ([]byte, error) {
	b, err := json.Marshal(WebSocketMessage{Type: msgType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return b, nil
}

func (h *WebSocketHandler) remove(c *client) {
	h.mutex.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mutex.Unlock()
	if ok {
		h.reportClients()
	}
}

func (h *WebSocketHandler) closeAll() {
	h.mutex.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mutex.Unlock()
	h.reportClients()
}

func (h *WebSocketHandler) reportClients() {
	if h.gauge != nil {
		h.gauge.SetWebSocketClients(h.ClientCount())
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *WebSocketHandler) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-time.After(writeWait):
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (h *WebSocketHandler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
