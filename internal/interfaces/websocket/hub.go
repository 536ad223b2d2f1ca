// Package websocket streams notification dispatch reports to connected
// operators.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/notify"
	"github.com/garyjia/permit-approvals/internal/interfaces/auth"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer      = 64
	broadcastBuffer = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// Authenticator resolves a raw bearer token
type Authenticator interface {
	Authenticate(token string) (*auth.Principal, error)
}

// Client represents a single connected WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	roleScope string
}

type broadcast struct {
	targetRole string
	payload    []byte
}

// Hub maintains the set of active clients and fans reports out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	auth       Authenticator
	logger     *zap.Logger

	// mu guards running and writes to clients; only run mutates clients
	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub. allowedOrigins empty means any origin.
func NewHub(authenticator Authenticator, allowedOrigins []string, logger *zap.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       authenticator,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
	}
}

// Name identifies the hub as a managed worker
func (h *Hub) Name() string {
	return "report-hub"
}

// Start launches the dispatch loop; it ends when ctx is cancelled
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("report hub already running")
	}
	h.running = true
	h.mu.Unlock()

	go h.run(ctx)
	return nil
}

// Stop is a no-op; the loop ends with the context passed to Start
func (h *Hub) Stop() error {
	return nil
}

// IsRunning reports whether the dispatch loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		h.running = false
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Report stream client connected", zap.String("user_id", client.userID))
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.roleScope != "" && client.roleScope != msg.targetRole {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("Report stream client disconnected", zap.String("user_id", client.userID))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements notify.ReportSink. It never blocks the notifier; when
// the broadcast buffer is full the report is dropped.
func (h *Hub) Publish(ctx context.Context, report *notify.DispatchReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		h.logger.Error("Failed to encode dispatch report", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcast{targetRole: report.TargetRole, payload: payload}:
	default:
		h.logger.Warn("Report stream buffer full, dropping report", zap.String("event_id", report.EventID))
	}
}

// ServeWs authenticates the caller and upgrades the connection. The
// optional role query parameter limits the stream to one target role.
func (h *Hub) ServeWs(c *gin.Context) {
	principal, err := h.auth.Authenticate(auth.BearerToken(c.Request))
	if err != nil {
		h.logger.Info("Report stream connection rejected", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		userID:    principal.UserID,
		roleScope: c.Query("role"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
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

// readPump keeps the connection alive and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Report stream read error", zap.Error(err))
			}
			return
		}
	}
}

// Verify interface compliance
var _ notify.ReportSink = (*Hub)(nil)
