package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is one live websocket connection, owned by exactly one identity for
// its whole lifetime. All outbound traffic goes through the buffered send
// channel so broadcasts never block on a slow socket.
type Conn struct {
	ID   string
	user Identity

	ws     *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, user Identity) *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		user: user,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Conn) UserID() string {
	return c.user.ID
}

// trySend queues the payload without blocking. Returns false if the
// connection is closed or its buffer is full (slow consumer).
func (c *Conn) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.ws != nil {
		c.ws.Close()
	}
}

// readPump relays inbound frames to the hub until the socket dies, then
// unregisters the connection. One goroutine per connection.
func (c *Conn) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Err(err).Str("conn", c.ID).Str("user", c.user.ID).Msg("websocket read failed")
			}
			return
		}
		h.dispatch(c, payload)
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings. One goroutine per connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
