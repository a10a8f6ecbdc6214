package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pseudocoder/livereload/internal/logging"
)

// Client is one browser session.
type Client struct {
	id          string
	remote      string
	connectedAt time.Time

	conn *websocket.Conn
	hub  *Hub

	// send holds encoded frames for writePump.
	send chan []byte

	// done is closed exactly once to tell writePump to exit. The send
	// channel itself is never closed so broadcasts cannot panic.
	done     chan struct{}
	doneOnce sync.Once
}

// ID returns the session identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) closeSend() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues data without blocking. It fails if the session is closing
// or its queue is full.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings. Any write error ends the session.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debugf("hub: write to session %s failed: %v", c.id, err)
				c.hub.removeClient(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.removeClient(c)
				return
			}
		}
	}
}

// readPump exists to notice the browser going away. Inbound messages are
// not part of the protocol and are discarded.
func (c *Client) readPump() {
	defer func() {
		if c.hub.removeClient(c) {
			logging.Infof("hub: session %s closed (%d remaining)", c.id, c.hub.ConnectionCount())
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				logging.Warnf("hub: session %s read error: %v", c.id, err)
			}
			return
		}
		logging.Debugf("hub: ignoring %d byte message from session %s", len(data), c.id)
	}
}
