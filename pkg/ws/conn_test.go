package ws

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pair returns a server-side Conn and the client socket talking to it.
func pair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	got := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		got <- c
	}))
	t.Cleanup(s.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	select {
	case c := <-got:
		return Wrap(c, time.Second), client
	case <-time.After(3 * time.Second):
		t.Fatal("no server conn")
	}
	return nil, nil
}

func TestConcurrentWritesAndClose(t *testing.T) {
	t.Parallel()
	srv, client := pair(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			_ = srv.WriteJSON(map[string]int{"n": i})
			done <- struct{}{}
		}(i)
	}
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 8; i++ {
		<-done
		if _, _, err := client.ReadMessage(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if err := srv.Close(websocket.CloseGoingAway, strings.Repeat("x", 200)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := srv.Close(websocket.CloseNormalClosure, ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: %v", err)
	}
	if err := srv.WriteText([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
	select {
	case <-srv.Done():
	default:
		t.Fatal("done not closed")
	}

	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("client saw %v", err)
	}
}

func TestIsNormalClose(t *testing.T) {
	t.Parallel()

	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	if !IsNormalClose(fmt.Errorf("read: %w", normal)) {
		t.Fatal("wrapped normal close not detected")
	}
	if IsNormalClose(&websocket.CloseError{Code: websocket.CloseInternalServerErr}) {
		t.Fatal("1011 is not normal")
	}
	if IsNormalClose(errors.New("eof")) {
		t.Fatal("plain error is not a close")
	}
}

func TestHubRemoveKeepsNewerConn(t *testing.T) {
	t.Parallel()
	a, _ := pair(t)
	b, _ := pair(t)

	h := NewHub()
	if !h.Add("s", a) {
		t.Fatal("first add refused")
	}
	if h.Add("s", b) {
		t.Fatal("open conn displaced by a second add")
	}
	h.Remove("s", b)
	if c, ok := h.Get("s"); !ok || c != a {
		t.Fatal("live conn evicted by a refused one")
	}

	_ = a.Close(websocket.CloseNormalClosure, "")
	if !h.Add("s", b) {
		t.Fatal("add refused after the old conn closed")
	}
	h.Remove("s", a)
	if c, ok := h.Get("s"); !ok || c != b {
		t.Fatal("newer conn evicted")
	}
	h.CloseAll("shutdown")
	if h.Len() != 0 {
		t.Fatal("hub not emptied")
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("conn not closed")
	}
}
