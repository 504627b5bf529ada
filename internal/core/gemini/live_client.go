package gemini

import (
	"net/http"
	"strings"
)

const (
	DefaultLiveHost = "wss://generativelanguage.googleapis.com"
	livePath        = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// LiveEndpoint returns the BidiGenerateContent WebSocket URL and the headers
// authenticating it. base overrides the host (scheme included) when non-empty.
func LiveEndpoint(apiKey, base string) (string, http.Header) {
	if base == "" {
		base = DefaultLiveHost
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	url := base
	if !strings.Contains(base, "BidiGenerateContent") {
		url += livePath
	}
	headers := http.Header{}
	headers.Set("x-goog-api-key", apiKey)
	return url, headers
}
