package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/internal/auth"
	"github.com/steveyiyo/voice-relay/internal/core/session"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/pkg/types"
)

// Stopper ends a live session.
type Stopper interface {
	Stop(id string) bool
}

type SessionsHandler struct {
	Svc     *session.Service
	Signer  *auth.Signer
	Relay   Stopper
	BaseURL string
	Log     zerolog.Logger
}

func NewSessionsHandler(svc *session.Service, signer *auth.Signer, relay Stopper, baseURL string, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{Svc: svc, Signer: signer, Relay: relay, BaseURL: baseURL, Log: log}
}

func (h *SessionsHandler) Create(c *gin.Context) {
	var req types.CreateSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResp{Error: "bad_request", Message: err.Error()})
		return
	}
	rec, err := h.Svc.Create(req.Provider)
	if err != nil {
		status, code := http.StatusBadRequest, "unknown_provider"
		if errors.Is(err, switcher.ErrProviderNotRegistered) {
			status, code = http.StatusUnprocessableEntity, "provider_not_registered"
		}
		c.JSON(status, types.ErrorResp{Error: code, Message: err.Error()})
		return
	}

	resp := types.CreateSessionResp{
		SessionID: rec.ID,
		Provider:  rec.Provider,
		WSURL:     streamURL(h.BaseURL, rec.ID),
	}
	if h.Signer.Enabled() {
		tok, exp, err := h.Signer.Issue(rec.ID, rec.Provider)
		if err != nil {
			h.Log.Error().Err(err).Str("session_id", rec.ID).Msg("issue stream token")
			c.JSON(http.StatusInternalServerError, types.ErrorResp{Error: "internal"})
			return
		}
		resp.Token, resp.ExpiresAt = tok, &exp
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *SessionsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, types.ListSessionsResp{Sessions: h.Svc.List()})
}

func (h *SessionsHandler) Summary(c *gin.Context) {
	sum, ok := h.Svc.Summary(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResp{Error: "not_found"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Delete stops a live session, or forgets a finished one.
func (h *SessionsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if h.Relay.Stop(id) {
		c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "stopping"})
		return
	}
	switch err := h.Svc.Forget(id); {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, session.ErrLive):
		// ended between Stop and Forget
		c.JSON(http.StatusConflict, types.ErrorResp{Error: "conflict"})
	default:
		c.JSON(http.StatusNotFound, types.ErrorResp{Error: "not_found"})
	}
}

func streamURL(base, id string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/stream?sess=" + id
}
