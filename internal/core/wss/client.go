package wss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/pkg/ws"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrNotConnected = errors.New("wss: not connected")

// ConnectionError is a transport failure on the provider leg.
type ConnectionError struct {
	Op         string // dial, read or write
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wss %s %s: http %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("wss %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CloseCode returns the close code sent by the peer, or 0.
func (e *ConnectionError) CloseCode() int {
	var ce *websocket.CloseError
	if errors.As(e.Err, &ce) {
		return ce.Code
	}
	return 0
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

func WithWriteWait(d time.Duration) Option { return func(c *Client) { c.writeWait = d } }

// Client owns one outbound WebSocket. It is single use: once closed it stays
// closed. Inbound frames, state transitions and transport errors are delivered
// on channels; Messages is closed when the read loop exits.
type Client struct {
	dialer    *websocket.Dialer
	writeWait time.Duration
	buffer    int
	log       zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     *ws.Conn
	url      string
	closeErr error

	messages chan []byte
	states   chan State
	errs     chan error

	closing     chan struct{}
	closingOnce sync.Once
	done        chan struct{}
	finishOnce  sync.Once
}

func New(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		writeWait: ws.DefaultWriteWait,
		buffer:    64,
		log:       log.With().Str("component", "wss").Logger(),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.messages = make(chan []byte, c.buffer)
	c.states = make(chan State, 8)
	c.errs = make(chan error, 8)
	return c
}

func (c *Client) Messages() <-chan []byte    { return c.messages }
func (c *Client) StateChanges() <-chan State { return c.states }
func (c *Client) Errors() <-chan error       { return c.errs }
func (c *Client) Done() <-chan struct{}      { return c.done }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the connection, or nil when it was closed
// locally. Only meaningful after Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) notifyState(s State) {
	select {
	case c.states <- s:
	default:
	}
}

func (c *Client) notifyErr(err error) {
	select {
	case c.errs <- err:
	default:
		c.log.Warn().Err(err).Msg("error notification dropped")
	}
}

func (c *Client) Connect(ctx context.Context, url string, header http.Header) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("wss: connect in state %s", st)
	}
	c.state = StateConnecting
	c.url = url
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		cerr := &ConnectionError{Op: "dial", URL: url, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		c.notifyErr(cerr)
		c.finish(cerr)
		return cerr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect won the race with the dial.
		c.mu.Unlock()
		_ = conn.Close()
		c.finish(nil)
		return &ConnectionError{Op: "dial", URL: url, Err: context.Canceled}
	}
	c.conn = ws.Wrap(conn, c.writeWait)
	c.state = StateConnected
	c.mu.Unlock()
	c.notifyState(StateConnected)
	c.log.Debug().Str("url", url).Msg("connected")

	go c.readLoop(c.conn)
	return nil
}

func (c *Client) readLoop(conn *ws.Conn) {
	var loopErr error
	defer func() { c.finish(loopErr) }()
	for {
		mt, data, err := conn.Read()
		if err != nil {
			select {
			case <-c.closing:
				// local disconnect
			default:
				loopErr = &ConnectionError{Op: "read", URL: c.url, Err: err}
				if !ws.IsNormalClose(err) {
					c.notifyErr(loopErr)
				}
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		select {
		case c.messages <- data:
		case <-c.closing:
			return
		}
	}
}

// finish releases the socket and closes the notification channels. It runs
// exactly once on every exit path.
func (c *Client) finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		if c.closeErr == nil {
			c.closeErr = err
		}
		c.state = StateClosed
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.CloseNormalClosure, "")
		}
		c.notifyState(StateClosed)
		close(c.messages)
		close(c.done)
	})
}

func (c *Client) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn, st, url := c.conn, c.state, c.url
	c.mu.Unlock()
	if st != StateConnected || conn == nil {
		return &ConnectionError{Op: "write", URL: url, Err: ErrNotConnected}
	}
	if err := conn.WriteText(data); err != nil {
		cerr := &ConnectionError{Op: "write", URL: url, Err: err}
		c.notifyErr(cerr)
		return cerr
	}
	return nil
}

// Disconnect closes the connection with the given close code and waits for
// the read loop to exit or ctx to end. Safe to call repeatedly.
func (c *Client) Disconnect(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	st, conn := c.state, c.conn
	switch st {
	case StateDisconnected:
		c.mu.Unlock()
		c.finish(nil)
		return nil
	case StateConnecting, StateConnected:
		c.state = StateClosing
	}
	c.mu.Unlock()

	c.closingOnce.Do(func() { close(c.closing) })
	if st == StateConnected {
		c.notifyState(StateClosing)
		if err := conn.Close(code, reason); err != nil && !errors.Is(err, ws.ErrClosed) {
			c.log.Debug().Err(err).Msg("close")
		}
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
