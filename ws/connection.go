package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lets-chat/domain"
	"lets-chat/domain/event"
	"lets-chat/errors"

	"github.com/gorilla/websocket"
)

// Connection is the EventSink of one websocket. Events are queued on a
// buffered channel and written by a single pump goroutine.
type Connection struct {
	id     domain.ConnectionID
	conn   *websocket.Conn
	log    *slog.Logger
	send   chan []byte
	done   chan struct{}
	pumped chan struct{}
	once   sync.Once
	config Config
}

func newConnection(conn *websocket.Conn, log *slog.Logger, config Config) *Connection {
	id := domain.NewConnectionID()
	return &Connection{
		id:     id,
		conn:   conn,
		log:    log.With("connection_id", id),
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		pumped: make(chan struct{}),
		config: config,
	}
}

func (c *Connection) ID() domain.ConnectionID { return c.id }

// Consume queues the event. When the buffer is full it waits until ctx ends.
func (c *Connection) Consume(ctx context.Context, out event.Outbound) error {
	frame, err := event.Encode(out)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrSessionClosed
	case c.send <- frame:
		return nil
	default:
	}
	select {
	case <-c.done:
		return errors.ErrSessionClosed
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errors.ErrSinkFull, ctx.Err())
	}
}

// writePump is the only writer on the socket. Once closed it flushes what is
// already queued, so a final error event still reaches the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	defer close(c.pumped)
	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close stops the pump. The read loop owns the socket and closes it.
func (c *Connection) Close() {
	c.once.Do(func() { close(c.done) })
}
