package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteWait = 5 * time.Second
	DefaultPongWait  = 60 * time.Second
	DefaultReadLimit = 8 << 20
)

var ErrClosed = errors.New("ws: connection closed")

// Conn wraps a gorilla connection so that any number of goroutines may write
// while exactly one goroutine reads.
type Conn struct {
	conn      *websocket.Conn
	writeWait time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func Wrap(c *websocket.Conn, writeWait time.Duration) *Conn {
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}
	c.SetReadLimit(DefaultReadLimit)
	return &Conn{conn: c, writeWait: writeWait, closed: make(chan struct{})}
}

func (c *Conn) write(mt int, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(mt, data)
}

func (c *Conn) WriteText(b []byte) error   { return c.write(websocket.TextMessage, b) }
func (c *Conn) WriteBinary(b []byte) error { return c.write(websocket.BinaryMessage, b) }

func (c *Conn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteText(b)
}

// Read must only be called from the connection's single read loop.
func (c *Conn) Read() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// KeepAlive arms the read deadline and answers pongs; the caller pings with Ping.
func (c *Conn) KeepAlive(pongWait time.Duration) {
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Conn) Ping() error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a close frame (best effort) and releases the socket. Only the
// first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, truncateReason(reason))
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) Underlying() *websocket.Conn { return c.conn }

// close frame payloads are limited to 125 bytes, two of which hold the code.
func truncateReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}

// IsNormalClose reports whether err, possibly wrapped, is a close the peer
// initiated on purpose.
func IsNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}
