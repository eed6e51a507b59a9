package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-app/parley/internal/protocol"
)

const (
	wsWriteWait = 5 * time.Second

	// sendQueueDepth bounds the per-client outbound queue. A client that
	// stops draining loses messages rather than blocking the hub.
	sendQueueDepth = 64
)

var errSendQueueFull = errors.New("hub: client send queue full")

// client is one relay channel: a registered (or registering) websocket
// connection plus its outbound queue. All writes to the connection happen in
// writePump; other goroutines enqueue via trySend.
type client struct {
	// connID disambiguates channel ownership when two sockets claim the same
	// identity; eviction only removes the registry entry of the owner.
	connID   string
	identity string // set once by the read loop on successful registration

	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(connID string, conn *websocket.Conn, logger *slog.Logger) *client {
	return &client{
		connID: connID,
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		log:    logger.With("conn_id", connID),
		done:   make(chan struct{}),
	}
}

// trySend enqueues a message without blocking. The error is for the caller's
// accounting; the client is not torn down here.
func (c *client) trySend(msg protocol.Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("hub: client closed")
	case c.send <- b:
		return nil
	default:
		return errSendQueueFull
	}
}

// shutdown stops the write pump after it drains queued messages (so a final
// error reply reaches the peer) and closes the connection.
func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump owns all writes: queued messages, heartbeat pings, and the final
// drain on shutdown. It exits on write failure or shutdown.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case <-ticker.C:
			if err := c.writeControlPing(); err != nil {
				c.log.Debug("ping failed", "err", err)
				return
			}
		case b := <-c.send:
			if err := c.writeFrame(b); err != nil {
				c.log.Debug("write failed", "err", err)
				return
			}
		}
	}
}

func (c *client) writeFrame(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *client) writeControlPing() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *client) drain() {
	for {
		select {
		case b := <-c.send:
			if err := c.writeFrame(b); err != nil {
				return
			}
		default:
			return
		}
	}
}
