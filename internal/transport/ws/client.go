package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/xrayguard/internal/obfcache"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

var (
	// ErrSendQueueFull is returned when a slow client's outbox overflows.
	// The client is disconnected.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
)

type outMsg struct {
	kind int // websocket.BinaryMessage or websocket.TextMessage
	data []byte
}

// Client is one player connection with a bounded outbox drained by a
// dedicated writer goroutine.
type Client struct {
	id           obfcache.PlayerID
	conn         *websocket.Conn
	writeTimeout time.Duration

	sendCh    chan outMsg
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newClient(id obfcache.PlayerID, conn *websocket.Conn, sendQueueSize int, writeTimeout time.Duration) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Client{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		sendCh:       make(chan outMsg, sendQueueSize),
		closeCh:      make(chan struct{}),
	}
}

// ID returns the player id assigned to this connection.
func (c *Client) ID() obfcache.PlayerID {
	return c.id
}

// Send queues a message without blocking. A full queue closes the client.
func (c *Client) Send(kind int, data []byte) error {
	select {
	case <-c.closeCh:
		return ErrClientClosed
	default:
	}

	select {
	case c.sendCh <- outMsg{kind: kind, data: data}:
		return nil
	default:
		slog.Warn("send queue full, disconnecting slow client", "player", c.id)
		c.CloseAsync()
		return ErrSendQueueFull
	}
}

// CloseAsync signals the writer to stop. Safe to call multiple times.
func (c *Client) CloseAsync() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
}

// writePump writes queued messages in order until the client is closed or
// a write fails. Closing the connection unblocks the reader.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "player", c.id, "error", err)
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				slog.Warn("write failed", "player", c.id, "error", err)
				c.CloseAsync()
				return
			}

		case <-c.closeCh:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return
		}
	}
}
