package reload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/devloop/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Frames queued per client before it counts as stalled.
	sendQueueSize = 16
)

var (
	errClientClosed = fmt.Errorf("client closed")
	errQueueFull    = fmt.Errorf("client send queue full")
)

// client is a websocket reload connection. Frames are queued on send and
// written by writePump; readPump detects disconnects.
type client struct {
	id     string
	conn   *websocket.Conn
	broker *Broker
	logger logging.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id string, conn *websocket.Conn, broker *Broker, logger logging.Logger) *client {
	return &client{
		id:     id,
		conn:   conn,
		broker: broker,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
	}
}

// ID implements Connection.
func (c *client) ID() string { return c.id }

// Deliver implements Connection.
func (c *client) Deliver(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errQueueFull
	}
}

// Close implements Connection.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// serve runs both pumps and returns once the connection ends.
func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump consumes client frames until the peer goes away. Livereload
// clients announce themselves with hello and info commands; both are only
// logged.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.broker.Remove(c.id)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.logger.Debug(ctx, "Reload client read ended", "client", c.id, "error", err.Error())
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err == nil && msg.Command != "" {
			c.logger.Debug(ctx, "Reload client message", "client", c.id, "command", msg.Command)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug(ctx, "Reload client write failed", "client", c.id, "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
