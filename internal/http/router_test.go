package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/internal/config"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
	"github.com/steveyiyo/voice-relay/internal/core/relay"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/internal/core/timer"
	"github.com/steveyiyo/voice-relay/internal/core/wss"
	"github.com/steveyiyo/voice-relay/internal/metrics"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
	"github.com/steveyiyo/voice-relay/pkg/types"
	"github.com/steveyiyo/voice-relay/pkg/ws"
)

// silentProvider accepts a realtime connection and reads until it closes.
func silentProvider(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newServer(t *testing.T, secret string) (*httptest.Server, *relay.Manager, *ws.Hub) {
	t.Helper()
	reg, err := switcher.New(switcher.Entry{
		Adapter:   provider.NewOpenAI(),
		Endpoint:  switcher.Endpoint{URL: silentProvider(t), Header: http.Header{}, Model: "gpt-test"},
		NewClient: func() switcher.WssClient { return wss.New(zerolog.Nop()) },
	})
	if err != nil {
		t.Fatal(err)
	}
	repo := memory.NewSessionRepo()
	m := metrics.New("test")
	mgr := relay.NewManager(reg, timer.NewManager(), repo, m, zerolog.Nop(), relay.Options{InactivityTimeout: 10 * time.Second})
	hub := ws.NewHub()
	srv := httptest.NewServer(NewRouter(Deps{
		Config:   config.Config{Port: "0", JWTSecret: secret, PublicHost: "relay.test"},
		Registry: reg,
		Relay:    mgr,
		Repo:     repo,
		Hub:      hub,
		Metrics:  m,
		Log:      zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv, mgr, hub
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	srv, _, _ := newServer(t, "")

	cases := []struct {
		body   any
		status int
		code   string
	}{
		{map[string]string{}, http.StatusBadRequest, "bad_request"},
		{map[string]string{"provider": "acme"}, http.StatusBadRequest, "unknown_provider"},
		{map[string]string{"provider": "gemini"}, http.StatusUnprocessableEntity, "provider_not_registered"},
	}
	for _, tc := range cases {
		resp := postJSON(t, srv.URL+"/v1/sessions", tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%v: status=%d", tc.body, resp.StatusCode)
		}
		if e := decodeBody[types.ErrorResp](t, resp); e.Error != tc.code {
			t.Fatalf("%v: error=%s", tc.body, e.Error)
		}
	}
}

func TestProvidersAndHealth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/v1/providers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got := decodeBody[types.ProvidersResp](t, resp)
	if len(got.Providers) != 1 || got.Providers[0].Name != "openai" || got.Providers[0].InputFormat != "PCM16@24000" {
		t.Fatalf("providers=%+v", got)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", path, resp.StatusCode)
		}
	}
}

func TestStreamRequiresToken(t *testing.T) {
	t.Parallel()
	srv, _, _ := newServer(t, "s3cret")

	created := decodeBody[types.CreateSessionResp](t, postJSON(t, srv.URL+"/v1/sessions", map[string]string{"provider": "openai"}))
	if created.Token == "" || created.ExpiresAt == nil {
		t.Fatalf("no token issued: %+v", created)
	}
	if !strings.HasPrefix(created.WSURL, "ws://relay.test/v1/stream?sess=") {
		t.Fatalf("ws_url=%s", created.WSURL)
	}

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?sess=" + created.SessionID
	_, resp, err := websocket.DefaultDialer.Dial(wsBase, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err=%v resp=%v", err, resp)
	}
	_, resp, err = websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/stream?sess=other&token="+created.Token, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("dial with foreign token: err=%v resp=%v", err, resp)
	}
}

func TestStreamLifecycle(t *testing.T) {
	t.Parallel()
	srv, mgr, _ := newServer(t, "s3cret")

	created := decodeBody[types.CreateSessionResp](t, postJSON(t, srv.URL+"/v1/sessions", map[string]string{"provider": "openai"}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?sess=" + created.SessionID + "&token=" + created.Token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	start := map[string]any{"type": "start", "provider": "openai", "input_codec": "ulaw", "input_sample_rate": 8000}
	if err := c.WriteJSON(start); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := mgr.Snapshot(created.SessionID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never became live")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := c.WriteMessage(websocket.BinaryMessage, make([]byte, 160)); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/"+created.SessionID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("delete live: status=%d", resp.StatusCode)
	}

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("close: %v", err)
			}
			break
		}
	}

	deadline = time.Now().Add(3 * time.Second)
	var sum types.SummaryResp
	for {
		resp, err := http.Get(srv.URL + "/v1/sessions/" + created.SessionID + "/summary")
		if err != nil {
			t.Fatal(err)
		}
		sum = decodeBody[types.SummaryResp](t, resp)
		resp.Body.Close()
		if sum.EndReason != "" || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sum.EndReason != string(relay.ReasonStopped) || sum.Live || sum.InputFormat != "MULAW@8000" {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestStreamRejectsBadStart(t *testing.T) {
	t.Parallel()
	srv, _, _ := newServer(t, "")

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.WriteJSON(map[string]any{"type": "media", "audio": "AAAA"}); err != nil {
		t.Fatal(err)
	}
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev relay.Event
	if err := c.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != relay.EventClientError || ev.Code != "invalid_start" {
		t.Fatalf("event=%+v", ev)
	}
	_, _, err = c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseInvalidFramePayloadData) {
		t.Fatalf("close: %v", err)
	}
}

// openStream creates a session, dials its stream and sends start.
func openStream(t *testing.T, srv *httptest.Server, created types.CreateSessionResp, providerName string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?sess=" + created.SessionID + "&token=" + created.Token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	start := map[string]any{"type": "start", "provider": providerName, "input_codec": "ulaw", "input_sample_rate": 8000}
	if err := c.WriteJSON(start); err != nil {
		t.Fatal(err)
	}
	return c
}

// expectRejected reads a ClientError with code and then a close with closeCode.
func expectRejected(t *testing.T, c *websocket.Conn, code string, closeCode int) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev relay.Event
	if err := c.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != relay.EventClientError || ev.Code != code {
		t.Fatalf("event=%+v", ev)
	}
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, closeCode) {
		t.Fatalf("close: %v", err)
	}
}

func TestStreamRejectsTokenForOtherProvider(t *testing.T) {
	t.Parallel()
	srv, _, _ := newServer(t, "s3cret")

	created := decodeBody[types.CreateSessionResp](t, postJSON(t, srv.URL+"/v1/sessions", map[string]string{"provider": "openai"}))
	c := openStream(t, srv, created, "google")
	expectRejected(t, c, "provider_mismatch", websocket.ClosePolicyViolation)
}

func TestDuplicateStreamKeepsLiveLeg(t *testing.T) {
	t.Parallel()
	srv, mgr, hub := newServer(t, "s3cret")

	created := decodeBody[types.CreateSessionResp](t, postJSON(t, srv.URL+"/v1/sessions", map[string]string{"provider": "openai"}))
	openStream(t, srv, created, "openai")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := mgr.Snapshot(created.SessionID); ok && hub.Len() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first stream never became live")
		}
		time.Sleep(10 * time.Millisecond)
	}
	live, _ := hub.Get(created.SessionID)

	dup := openStream(t, srv, created, "openai")
	expectRejected(t, dup, "session_exists", websocket.CloseNormalClosure)

	if got, ok := hub.Get(created.SessionID); !ok || got != live {
		t.Fatal("live leg dropped from the hub")
	}
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	health := decodeBody[map[string]any](t, resp)
	if health["streams"] != float64(1) {
		t.Fatalf("health=%v", health)
	}
}
