package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbd888/ledgerview/internal/state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected push client.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	userID string // set by the join message
}

// hub fans pushed events out to connected clients.
type hub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*wsClient]bool),
	}
}

func (h *hub) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump(h)
	go client.readPump(h)
}

func (h *hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// broadcast sends the event to every connected client. Slow clients are
// dropped rather than blocking the sender.
func (h *hub) broadcast(ev state.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	h.mu.Lock()
	var slow []*wsClient
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// joinedUsers returns the userIds received in join messages.
func (h *hub) joinedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for client := range h.clients {
		client.mu.Lock()
		if client.userID != "" {
			ids = append(ids, client.userID)
		}
		client.mu.Unlock()
	}
	return ids
}

func (c *wsClient) readPump(h *hub) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var join struct {
			Type   string `json:"type"`
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(message, &join); err == nil && join.Type == "join" {
			c.mu.Lock()
			c.userID = join.UserID
			c.mu.Unlock()
		}
	}
}

func (c *wsClient) writePump(h *hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
