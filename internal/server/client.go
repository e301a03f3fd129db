package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// client wraps one WebSocket connection with a buffered outbound queue
// so a slow reader never blocks the snapshot feed.
type client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 16),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue marshals and queues a message, dropping it when the client
// cannot keep up. Snapshots are self-contained, so a dropped one is
// superseded by the next.
func (c *client) enqueue(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[server] ws marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
