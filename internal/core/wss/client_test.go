package wss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// peer runs handle for every upgraded connection.
func peer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(s.Close)
	return s
}

func auth() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer k")
	return h
}

func TestClientEchoAndDisconnect(t *testing.T) {
	t.Parallel()

	s := peer(t, func(c *websocket.Conn) {
		for {
			mt, b, err := c.ReadMessage()
			if err != nil {
				return
			}
			_ = c.WriteMessage(mt, b)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(zerolog.Nop())
	if err := c.Connect(ctx, wsURL(s), auth()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state=%s", c.State())
	}
	if err := c.Send(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case m := <-c.Messages():
		if string(m) != `{"type":"ping"}` {
			t.Fatalf("echo=%s", m)
		}
	case <-ctx.Done():
		t.Fatal("no echo")
	}

	if err := c.Disconnect(ctx, websocket.CloseNormalClosure, "bye"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state=%s after disconnect", c.State())
	}
	if c.Err() != nil {
		t.Fatalf("local disconnect should leave no error, got %v", c.Err())
	}
	// idempotent
	if err := c.Disconnect(ctx, websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	var cerr *ConnectionError
	if err := c.Send(ctx, []byte("x")); !errors.As(err, &cerr) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after close: %v", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatalf("messages should be closed")
	}
}

func TestClientPeerClose(t *testing.T) {
	t.Parallel()

	s := peer(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(zerolog.Nop())
	if err := c.Connect(ctx, wsURL(s), auth()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var got int
	for range c.Messages() {
		got++
	}
	if got != 1 {
		t.Fatalf("got %d messages, want 1", got)
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("done not closed")
	}

	var cerr *ConnectionError
	if !errors.As(c.Err(), &cerr) || cerr.Op != "read" || cerr.CloseCode() != websocket.CloseInternalServerErr {
		t.Fatalf("err=%v", c.Err())
	}
	select {
	case err := <-c.Errors():
		if !errors.As(err, &cerr) {
			t.Fatalf("unexpected notification %v", err)
		}
	default:
		t.Fatal("abnormal close should be notified")
	}
}

func TestClientDialFailure(t *testing.T) {
	t.Parallel()

	s := peer(t, func(*websocket.Conn) {})

	c := New(zerolog.Nop())
	err := c.Connect(context.Background(), wsURL(s), http.Header{})
	var cerr *ConnectionError
	if !errors.As(err, &cerr) || cerr.Op != "dial" || cerr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err=%v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("failed dial must release the client")
	}
	if err := c.Connect(context.Background(), wsURL(s), auth()); err == nil {
		t.Fatal("client must be single use")
	}
}

func TestClientDisconnectBeforeConnect(t *testing.T) {
	t.Parallel()

	c := New(zerolog.Nop())
	if err := c.Disconnect(context.Background(), websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClientDisconnectWhileBlockedOnDelivery(t *testing.T) {
	t.Parallel()

	s := peer(t, func(c *websocket.Conn) {
		for i := 0; i < 50; i++ {
			if err := c.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
				return
			}
		}
		_, _, _ = c.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(zerolog.Nop(), WithBuffer(1))
	if err := c.Connect(ctx, wsURL(s), auth()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// nobody drains Messages; the read loop must still exit
	if err := c.Disconnect(ctx, websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}
