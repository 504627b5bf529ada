package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/internal/auth"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
	"github.com/steveyiyo/voice-relay/internal/core/relay"
	"github.com/steveyiyo/voice-relay/pkg/types"
	"github.com/steveyiyo/voice-relay/pkg/ws"
)

const pingPeriod = ws.DefaultPongWait * 9 / 10

type StreamHandler struct {
	Hub      *ws.Hub
	Relay    *relay.Manager
	Signer   *auth.Signer
	Log      zerolog.Logger
	Upgrader websocket.Upgrader
}

func NewStreamHandler(hub *ws.Hub, mgr *relay.Manager, signer *auth.Signer, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		Hub:    hub,
		Relay:  mgr,
		Signer: signer,
		Log:    log,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WS attaches a telephony leg. The first frame must be a start frame; the
// relay owns the socket afterwards.
func (h *StreamHandler) WS(c *gin.Context) {
	id := c.Query("sess")
	var tokenProvider string
	if h.Signer.Enabled() {
		claims, err := h.Signer.Verify(bearer(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.ErrorResp{Error: "unauthorized"})
			return
		}
		if id == "" {
			id = claims.SessionID
		}
		if claims.SessionID != id {
			c.JSON(http.StatusForbidden, types.ErrorResp{Error: "forbidden", Message: "token is for another session"})
			return
		}
		tokenProvider = claims.Provider
	}

	raw, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	conn := ws.Wrap(raw, ws.DefaultWriteWait)
	conn.KeepAlive(ws.DefaultPongWait)
	go keepPinging(conn)

	start, err := relay.AwaitStart(conn)
	if err != nil {
		h.Log.Info().Err(err).Str("remote", c.ClientIP()).Msg("stream rejected")
		_ = conn.WriteJSON(relay.Event{Type: relay.EventClientError, SessionID: id, Code: "invalid_start", Message: err.Error()})
		_ = conn.Close(websocket.CloseInvalidFramePayloadData, "invalid_start")
		return
	}
	if id != "" && start.SessionID != "" && start.SessionID != id {
		_ = conn.WriteJSON(relay.Event{Type: relay.EventClientError, SessionID: id, Code: "invalid_start", Message: "session id mismatch"})
		_ = conn.Close(websocket.ClosePolicyViolation, "invalid_start")
		return
	}
	if !sameProvider(tokenProvider, start.Provider) {
		_ = conn.WriteJSON(relay.Event{Type: relay.EventClientError, SessionID: id, Code: "provider_mismatch", Message: "token is for provider " + tokenProvider})
		_ = conn.Close(websocket.ClosePolicyViolation, "provider_mismatch")
		return
	}
	if id == "" {
		id = start.SessionID
	}
	if id == "" {
		id = "sess_" + uuid.NewString()
	}
	start.SessionID = id

	// a duplicate is refused by Run; only the leg that owns the id is tracked
	if h.Hub.Add(id, conn) {
		defer h.Hub.Remove(id, conn)
	}

	began := time.Now()
	reason := h.Relay.Run(c.Request.Context(), conn, start)
	h.Log.Info().
		Str("session_id", id).
		Str("reason", string(reason)).
		Dur("took", time.Since(began)).
		Msg("stream closed")
}

// sameProvider compares a token's provider claim with the start frame's.
// An empty claim allows any provider.
func sameProvider(claim, requested string) bool {
	if claim == "" {
		return true
	}
	a, err1 := provider.Parse(claim)
	b, err2 := provider.Parse(requested)
	if err1 != nil || err2 != nil {
		return claim == requested
	}
	return a == b
}

func keepPinging(conn *ws.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-t.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

// bearer reads the stream token from the query string, which is all most
// telephony platforms can set, or from the Authorization header.
func bearer(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}
