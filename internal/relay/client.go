package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guhur/plus-proche/internal/protocol"
	"github.com/guhur/plus-proche/internal/telemetry"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Client is one websocket peer of a room.
type Client struct {
	id   string
	room *Room
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(r *Room, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		room: r,
		conn: conn,
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// run serves the client until its connection ends.
func (c *Client) run() {
	c.room.join(c)
	go c.writePump()
	c.readPump()
}

// send queues b. A client that cannot keep up is disconnected; it catches up
// with a new sync handshake when it reconnects.
func (c *Client) send(b []byte) {
	select {
	case c.out <- b:
	case <-c.done:
	default:
		telemetry.RelayDroppedMessages.Inc()
		slog.Warn("relay: send buffer full, disconnecting client", "room", c.room.name, "client", c.id)
		c.Close()
	}
}

func (c *Client) sendMessage(m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		slog.Error("relay: encode message failed", "room", c.room.name, "client", c.id, "error", err)
		return
	}
	c.send(b)
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.room.leave(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("relay: websocket read error", "room", c.room.name, "client", c.id, "error", err)
			}
			return
		}

		m, err := protocol.Decode(b)
		if err != nil {
			slog.Warn("relay: malformed message, ignoring", "room", c.room.name, "client", c.id, "error", err)
			continue
		}

		c.room.handle(c, m)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case b := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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
