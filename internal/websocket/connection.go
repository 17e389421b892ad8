package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WatchAll is the watch value of dashboards that follow every examinee
const WatchAll = "*"

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs event bursts around clip saves
	id           string
	watch        string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a new WebSocket connection wrapper for a subscriber
// that follows watch (a username or WatchAll)
func NewConnection(conn *websocket.Conn, id, watch string, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, 100),
		id:           id,
		watch:        watch,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery. It is safe for concurrent use.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// writeControl sends a control frame. gorilla allows WriteControl
// concurrently with the data writer.
func (c *Connection) writeControl(messageType int, deadline time.Time) error {
	return c.conn.WriteControl(messageType, []byte{}, deadline)
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) GetID() string {
	return c.id
}

func (c *Connection) GetWatch() string {
	return c.watch
}

// Follows reports whether events about username should reach this subscriber
func (c *Connection) Follows(username string) bool {
	return c.watch == WatchAll || c.watch == username
}
