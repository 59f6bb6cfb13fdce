package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client represents one authenticated WebSocket connection. A user may
// hold several at once; each is tracked independently.
type Client struct {
	id     string
	userID int
	role   string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	log    *logrus.Logger
}

// NewClient wraps an upgraded connection for the given principal.
func NewClient(hub *Hub, conn *websocket.Conn, userID int, role string, log *logrus.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		role:   role,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		log:    log,
	}
}

// trySend queues data for delivery without blocking. A connection that
// cannot keep up loses events; delivery is best-effort.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.WithField("connection_id", c.id).Warn("send buffer full, dropping event")
	}
}

// ReadPump drains the connection until it closes. Clients do not send
// application messages after the handshake; reading is how transport
// close and pong frames are observed.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithFields(logrus.Fields{
					"connection_id": c.id,
					"error":         err,
				}).Debug("websocket read error")
			}
			return
		}
	}
}

// WritePump forwards queued events to the connection and keeps it
// alive with pings.
func (c *Client) WritePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
