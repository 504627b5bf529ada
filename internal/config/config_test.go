package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "INACTIVITY_TIMEOUT", "TLS", "PUBLIC_HOST", "PROVIDERS_FILE", "QWEN_REGION"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.InactivityTimeout != 30*time.Second || cfg.TranscodeTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Providers["qwen"].Region != "intl" {
		t.Fatalf("qwen region=%q", cfg.Providers["qwen"].Region)
	}
	if cfg.BaseURL() != "http://localhost:8080" {
		t.Fatalf("base=%s", cfg.BaseURL())
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PROVIDERS_FILE", "")
	t.Setenv("INACTIVITY_TIMEOUT", "45")
	t.Setenv("CONNECT_TIMEOUT", "3s")
	t.Setenv("TLS", "1")
	t.Setenv("PUBLIC_HOST", "relay.example.com")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InactivityTimeout != 45*time.Second || cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("durations: %v %v", cfg.InactivityTimeout, cfg.ConnectTimeout)
	}
	if cfg.BaseURL() != "https://relay.example.com" {
		t.Fatalf("base=%s", cfg.BaseURL())
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Fatalf("openai key not loaded")
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	t.Setenv("PROVIDERS_FILE", "")
	t.Setenv("INACTIVITY_TIMEOUT", "-1s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestProvidersFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	doc := `
providers:
  - name: OpenAI
    model: gpt-4o-mini-realtime-preview
    headers:
      X-Trace: "1"
  - name: qwen
    region: cn
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROVIDERS_FILE", path)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("INACTIVITY_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oa := cfg.Providers["openai"]
	if oa.APIKey != "sk-env" || oa.Model != "gpt-4o-mini-realtime-preview" || oa.Headers["X-Trace"] != "1" {
		t.Fatalf("openai=%+v", oa)
	}
	if cfg.Providers["qwen"].Region != "cn" {
		t.Fatalf("qwen=%+v", cfg.Providers["qwen"])
	}
}

func TestMergeProvidersErrors(t *testing.T) {
	var c Config
	if err := c.MergeProviders([]byte("providers: [{url: x}]")); err == nil {
		t.Fatal("expected missing name error")
	}
	if err := c.MergeProviders([]byte("providers: {")); err == nil {
		t.Fatal("expected parse error")
	}
}
