package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/pkg/types"
)

type ProvidersHandler struct {
	Registry *switcher.Registry
}

func NewProvidersHandler(reg *switcher.Registry) *ProvidersHandler {
	return &ProvidersHandler{Registry: reg}
}

func (h *ProvidersHandler) List(c *gin.Context) {
	out := types.ProvidersResp{Providers: []types.ProviderInfo{}}
	for _, p := range h.Registry.Providers() {
		a, err := h.Registry.ProviderAdapter(p)
		if err != nil {
			continue
		}
		ep, _ := h.Registry.Endpoint(p)
		out.Providers = append(out.Providers, types.ProviderInfo{
			Name:         string(p),
			Model:        ep.Model,
			InputFormat:  a.InputFormat().String(),
			OutputFormat: a.OutputFormat().String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// Health reports liveness plus the number of attached telephony legs.
func Health(active func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": active()})
	}
}
