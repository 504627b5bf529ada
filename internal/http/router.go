package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/internal/auth"
	"github.com/steveyiyo/voice-relay/internal/config"
	"github.com/steveyiyo/voice-relay/internal/core/relay"
	"github.com/steveyiyo/voice-relay/internal/core/session"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/internal/http/handlers"
	"github.com/steveyiyo/voice-relay/internal/http/middleware"
	"github.com/steveyiyo/voice-relay/internal/metrics"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
	"github.com/steveyiyo/voice-relay/pkg/ws"
)

type Deps struct {
	Config   config.Config
	Registry *switcher.Registry
	Relay    *relay.Manager
	Repo     *memory.SessionRepo
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logger(d.Log))

	signer := auth.NewSigner(d.Config.JWTSecret, auth.DefaultTokenTTL)
	svc := session.NewService(d.Repo, d.Relay, d.Registry)
	sh := handlers.NewSessionsHandler(svc, signer, d.Relay, d.Config.BaseURL(), d.Log)
	wsh := handlers.NewStreamHandler(d.Hub, d.Relay, signer, d.Log)
	ph := handlers.NewProvidersHandler(d.Registry)

	api := r.Group("/v1")
	api.POST("/sessions", sh.Create)
	api.GET("/sessions", sh.List)
	api.GET("/sessions/:id/summary", sh.Summary)
	api.DELETE("/sessions/:id", sh.Delete)
	api.GET("/providers", ph.List)
	r.GET("/v1/stream", wsh.WS)

	r.GET("/healthz", handlers.Health(d.Hub.Len))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	return r
}
