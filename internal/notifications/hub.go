package notifications

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"inventory-portal/portal-backend/internal/onboarding"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// MessageType identifies a push message
type MessageType string

const (
	MessageConnected MessageType = "connected"
	MessageNavigate  MessageType = "navigate"
)

// Message is pushed to connected clients as JSON
type Message struct {
	Type      MessageType    `json:"type"`
	Route     string         `json:"route,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Connection is one websocket client of a (company, user) pair
type Connection struct {
	ID        string
	CompanyID uuid.UUID
	UserID    uuid.UUID
	conn      *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the write pump, which sends the close frame and closes the socket
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Hub keeps the live websocket connections and pushes onboarding navigation to
// them. It implements onboarding.Navigator.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the request and registers the connection. Browsers cannot set
// headers on websocket requests, so the pair may also come from the query string.
func (h *Hub) ServeWS(c *gin.Context) {
	companyID, err := uuid.Parse(firstNonEmpty(c.GetHeader("X-Company-ID"), c.Query("company_id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing company id"})
		return
	}
	userID, err := uuid.Parse(firstNonEmpty(c.GetHeader("X-User-ID"), c.Query("user_id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing user id"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	conn := &Connection{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		UserID:    userID,
		conn:      ws,
		send:      make(chan Message, sendBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()

	h.logger.Debug("Websocket connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", userID.String()))

	conn.send <- Message{
		Type:      MessageConnected,
		Data:      map[string]any{"connection_id": conn.ID},
		Timestamp: time.Now().UTC(),
	}

	go h.writePump(conn)
	go h.readPump(conn)
}

// NavigateTo pushes route to every connection of the pair attached to ctx. Pairs
// without connections are ignored.
func (h *Hub) NavigateTo(ctx context.Context, route string) error {
	target, ok := onboarding.TargetFrom(ctx)
	if !ok {
		return nil
	}
	h.SendToUser(target.CompanyID, target.UserID, Message{
		Type:      MessageNavigate,
		Route:     route,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// SendToUser queues msg on each connection of the pair and returns how many accepted it.
// Connections with a full buffer drop the message.
func (h *Hub) SendToUser(companyID, userID uuid.UUID, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, conn := range h.conns {
		if conn.CompanyID != companyID || conn.UserID != userID {
			continue
		}
		select {
		case conn.send <- msg:
			sent++
		case <-conn.done:
		default:
			h.logger.Warn("Websocket send buffer full, dropping message", zap.String("connection_id", conn.ID))
		}
	}
	return sent
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	conn.close()
}

// readPump drains client frames so pongs and close frames are processed
func (h *Hub) readPump(conn *Connection) {
	defer h.unregister(conn)

	conn.conn.SetReadLimit(512)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.close()
		conn.conn.Close()
	}()

	for {
		select {
		case msg := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			conn.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
