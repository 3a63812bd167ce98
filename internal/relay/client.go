// ABOUTME: Represents a single push-channel connection with its read/write pumps.
// ABOUTME: Handles safe sends, keep-alive ping/pong and close-once semantics.

package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection.
	sendQueueSize = 32
)

// client is one registered connection, either a device or an admin.
type client struct {
	conn *websocket.Conn
	role string // "device" or "admin"
	id   string // device ID for devices, empty for admins
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
	closed    atomic.Bool
}

func newClient(conn *websocket.Conn, hub *Hub) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		hub:  hub,
	}
}

// safeSend queues data for the client without panicking on a closed channel.
// Returns false if the connection is closed or its buffer is full.
func (c *client) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// readPump reads envelopes from the socket and hands them to the hub.
// It exits on any read error, unregistering the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("push connection read error", "error", err, "role", c.role, "id", c.id)
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handleEnvelope(c, data)
	}
}

// writePump drains the send channel onto the socket and emits keep-alive pings.
func (c *client) writePump() {
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
