package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

const (
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 64 * 1024
)

// Client is one websocket connection attached to the hub.
type Client struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	UserID string
	rooms  map[string]bool
}

// NewClient attaches a fresh connection to the hub and starts its pumps.
func NewClient(h *Hub, ws *websocket.Conn, userID string) *Client {
	c := &Client{
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		UserID: userID,
		rooms:  make(map[string]bool),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
	return c
}

// readPump decodes inbound envelopes and hands them to the hub until the
// connection dies, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("client_read_failed", "user", c.UserID, "error", err)
			}
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("client_invalid_envelope", "user", c.UserID, "error", err)
			continue
		}
		c.hub.HandleIntent(c, env)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. Closing the send channel (by the hub) ends the pump.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
