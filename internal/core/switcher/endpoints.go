package switcher

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/steveyiyo/voice-relay/internal/config"
	"github.com/steveyiyo/voice-relay/internal/core/gemini"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
)

const (
	defaultOpenAIModel     = "gpt-4o-realtime-preview"
	defaultAzureAPIVersion = "2024-10-01-preview"
	defaultQwenModel       = "qwen-omni-turbo-realtime"
	DefaultGeminiModel     = "gemini-2.0-flash-live-001"
)

// FromConfig registers every provider that has credentials configured.
// Providers without an API key are skipped and reported as not registered
// when a session asks for them.
func FromConfig(providers map[string]config.ProviderConfig, newClient func() WssClient, log zerolog.Logger) (*Registry, error) {
	var entries []Entry
	for _, name := range []string{"openai", "azure", "google", "qwen"} {
		pc, ok := providers[name]
		if !ok || pc.APIKey == "" {
			log.Debug().Str("provider", name).Msg("no credentials, provider disabled")
			continue
		}
		p, _ := provider.Parse(name)
		ep, adapter := endpointFor(p, pc)
		if ep.URL == "" {
			log.Warn().Str("provider", name).Msg("incomplete endpoint configuration, provider disabled")
			continue
		}
		for k, v := range pc.Headers {
			ep.Header.Set(k, v)
		}
		entries = append(entries, Entry{Adapter: adapter, Endpoint: ep, NewClient: newClient})
		log.Info().Str("provider", name).Str("model", ep.Model).Msg("provider registered")
	}
	return New(entries...)
}

func endpointFor(p provider.Provider, pc config.ProviderConfig) (Endpoint, provider.Adapter) {
	h := http.Header{}
	switch p {
	case provider.OpenAI:
		model := orDefault(pc.Model, defaultOpenAIModel)
		base := orDefault(pc.URL, "wss://api.openai.com/v1/realtime")
		h.Set("Authorization", "Bearer "+pc.APIKey)
		h.Set("OpenAI-Beta", "realtime=v1")
		return Endpoint{URL: withQuery(base, url.Values{"model": {model}}), Header: h, Model: model}, provider.NewOpenAI()

	case provider.Azure:
		if pc.Deployment == "" || (pc.Endpoint == "" && pc.URL == "") {
			return Endpoint{}, nil
		}
		base := pc.URL
		if base == "" {
			host := strings.TrimPrefix(strings.TrimPrefix(pc.Endpoint, "https://"), "wss://")
			base = "wss://" + strings.TrimRight(host, "/") + "/openai/realtime"
		}
		h.Set("api-key", pc.APIKey)
		q := url.Values{
			"api-version": {orDefault(pc.APIVersion, defaultAzureAPIVersion)},
			"deployment":  {pc.Deployment},
		}
		return Endpoint{URL: withQuery(base, q), Header: h, Model: pc.Deployment}, provider.NewAzure()

	case provider.Google:
		u, gh := gemini.LiveEndpoint(pc.APIKey, pc.URL)
		return Endpoint{URL: u, Header: gh, Model: orDefault(pc.Model, DefaultGeminiModel)}, provider.NewGoogle()

	case provider.Qwen:
		model := orDefault(pc.Model, defaultQwenModel)
		base := pc.URL
		if base == "" {
			base = "wss://dashscope-intl.aliyuncs.com/api-ws/v1/realtime"
			if strings.EqualFold(pc.Region, "cn") {
				base = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
			}
		}
		h.Set("Authorization", "Bearer "+pc.APIKey)
		return Endpoint{URL: withQuery(base, url.Values{"model": {model}}), Header: h, Model: model}, provider.NewQwen()
	}
	return Endpoint{}, nil
}

func withQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	cur := u.Query()
	for k, v := range q {
		if cur.Get(k) == "" {
			cur[k] = v
		}
	}
	u.RawQuery = cur.Encode()
	return u.String()
}

func orDefault(v, d string) string {
	if v != "" {
		return v
	}
	return d
}
