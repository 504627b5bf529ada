package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"google.golang.org/genai"
)

// liveAction is the supportedActions entry of models served over the Live API.
const liveAction = "bidiGenerateContent"

var ErrNotLiveModel = errors.New("gemini: model does not support the Live API")

// Prober checks Gemini credentials and model availability over REST before a
// Live session is attempted.
type Prober struct {
	c *genai.Client
}

type ModelInfo struct {
	Name            string
	DisplayName     string
	InputTokenLimit int32
	Live            bool
}

// New builds a prober. baseURL overrides the Gemini API host and is empty in
// production.
func New(ctx context.Context, apiKey, baseURL string) (*Prober, error) {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	hc := &http.Client{Transport: tr, Timeout: 30 * time.Second}
	reqTimeout := 15 * time.Second
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: "v1beta",
			Timeout:    &reqTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Prober{c: cl}, nil
}

// Model fetches model metadata, retrying transient transport failures.
func (p *Prober) Model(ctx context.Context, model string) (*ModelInfo, error) {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	var lastErr error
	for i := 0; i < 3; i++ {
		m, err := p.c.Models.Get(ctx, model, nil)
		if err != nil {
			lastErr = err
			if retriable(err) {
				select {
				case <-time.After(time.Duration(300*(i+1)) * time.Millisecond):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, err
		}
		return &ModelInfo{
			Name:            m.Name,
			DisplayName:     m.DisplayName,
			InputTokenLimit: m.InputTokenLimit,
			Live:            slices.Contains(m.SupportedActions, liveAction),
		}, nil
	}
	return nil, lastErr
}

// CheckLive returns ErrNotLiveModel when the model exists but cannot be used
// for a realtime session.
func (p *Prober) CheckLive(ctx context.Context, model string) (*ModelInfo, error) {
	info, err := p.Model(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("gemini: probe %s: %w", model, err)
	}
	if !info.Live {
		return info, ErrNotLiveModel
	}
	return info, nil
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	s := err.Error()
	return strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "RST_STREAM") ||
		strings.Contains(s, "connection reset")
}
