package collab

import (
	"context"
	"time"

	"collab-app/internal/models"
	"collab-app/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// sendBufferSize bounds per-connection outbound backlog; a full buffer
	// drops frames instead of stalling the room.
	sendBufferSize = 256
)

// Client binds one WebSocket connection to the router. The connection id is
// assigned here and never changes; the principal was verified before the
// upgrade and is immutable for the connection's lifetime.
type Client struct {
	conn   *websocket.Conn
	router *Router
	// send is never closed; ReadPump closes done instead, so a concurrent
	// Send can never hit a closed channel.
	send      chan []byte
	done      chan struct{}
	id        string
	principal models.Principal
}

func NewClient(conn *websocket.Conn, principal models.Principal, router *Router) *Client {
	return &Client{
		conn:      conn,
		router:    router,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		id:        uuid.NewString(),
		principal: principal,
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() int      { return c.principal.UserID }
func (c *Client) Username() string { return c.principal.Username }

// Send queues a frame without blocking. False means the frame was dropped.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ReadPump processes inbound frames in arrival order, preserving
// per-connection event ordering. Every exit path, including keepalive
// failure, funnels through Router.Disconnect.
func (c *Client) ReadPump() {
	defer func() {
		c.router.Disconnect(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on %s: %v", c.id, err)
			}
			break
		}

		c.router.Dispatch(context.Background(), c, message)
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// periodic pings. It exits as soon as ReadPump signals done rather than
// waiting out the next ping.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error on %s: %v", c.id, err)
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
