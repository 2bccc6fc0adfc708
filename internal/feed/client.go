package feed

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/debridrelay/debridrelay/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Client is one websocket connection subscribed to a chat's events.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	chatID int64
	send   chan notify.Event
}

func NewClient(hub *Hub, conn *websocket.Conn, chatID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		chatID: chatID,
		send:   make(chan notify.Event, sendBuffer),
	}
}

// ReadPump discards inbound messages and keeps the read deadline alive
// from pongs. It unregisters the client when the connection ends.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump writes events and pings until the hub closes send.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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
