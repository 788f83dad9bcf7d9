package stream

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one websocket subscriber
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan EventMessage

	mu      sync.RWMutex
	markets map[string]struct{}
}

// subscribeMessage is the only inbound message shape clients may send
type subscribeMessage struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	MarketID string `json:"market_id"`
}

func (c *Client) subscribed(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		// No explicit subscriptions means the firehose.
		return true
	}
	_, ok := c.markets[marketID]
	return ok
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg subscribeMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.MarketID == "" {
			continue
		}
		c.mu.Lock()
		switch msg.Action {
		case "subscribe":
			c.markets[msg.MarketID] = struct{}{}
		case "unsubscribe":
			delete(c.markets, msg.MarketID)
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// Handler upgrades HTTP connections into stream subscriptions
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewHandler creates a stream handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logrus.WithField("component", "stream"),
	}
}

// RegisterRoutes registers the websocket endpoint
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stream/events", h.Events)
}

// Events handles GET /stream/events
func (h *Handler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		id:      newClientID(),
		hub:     h.hub,
		conn:    conn,
		send:    make(chan EventMessage, 64),
		markets: make(map[string]struct{}),
	}
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func newClientID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
