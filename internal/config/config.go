package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       string
	JWTSecret  string
	PublicHost string
	TLS        bool

	InactivityTimeout    time.Duration
	ConnectTimeout       time.Duration
	TranscodeTimeout     time.Duration
	TranscodeConcurrency int
	FrameBuffer          int

	Log LogConfig

	ProvidersFile string
	// Providers is keyed by provider name (openai, azure, google, qwen).
	Providers map[string]ProviderConfig
}

type LogConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ProviderConfig holds credentials and endpoint overrides for one vendor.
// Empty fields fall back to the vendor defaults.
type ProviderConfig struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	APIKey     string            `yaml:"api_key"`
	Model      string            `yaml:"model"`
	Region     string            `yaml:"region"`
	Endpoint   string            `yaml:"endpoint"`
	Deployment string            `yaml:"deployment"`
	APIVersion string            `yaml:"api_version"`
	Headers    map[string]string `yaml:"headers"`
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 getenv("PORT", "8080"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		PublicHost:           os.Getenv("PUBLIC_HOST"),
		TLS:                  getbool("TLS", false),
		InactivityTimeout:    getduration("INACTIVITY_TIMEOUT", 30*time.Second),
		ConnectTimeout:       getduration("CONNECT_TIMEOUT", 10*time.Second),
		TranscodeTimeout:     getduration("TRANSCODE_TIMEOUT", 250*time.Millisecond),
		TranscodeConcurrency: getint("TRANSCODE_CONCURRENCY", 2*runtime.NumCPU()),
		FrameBuffer:          getint("FRAME_BUFFER", 64),
		Log: LogConfig{
			Level:      getenv("LOG_LEVEL", "info"),
			Pretty:     getbool("LOG_PRETTY", false),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getint("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getint("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getint("LOG_MAX_AGE_DAYS", 14),
		},
		ProvidersFile: os.Getenv("PROVIDERS_FILE"),
		Providers: map[string]ProviderConfig{
			"openai": {
				Name:   "openai",
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  os.Getenv("OPENAI_REALTIME_MODEL"),
			},
			"azure": {
				Name:       "azure",
				APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
				Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
				Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
				APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
			},
			"google": {
				Name:   "google",
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  os.Getenv("GEMINI_LIVE_MODEL"),
			},
			"qwen": {
				Name:   "qwen",
				APIKey: os.Getenv("DASHSCOPE_API_KEY"),
				Model:  os.Getenv("QWEN_REALTIME_MODEL"),
				Region: getenv("QWEN_REGION", "intl"),
			},
		},
	}
	if cfg.InactivityTimeout <= 0 {
		return cfg, fmt.Errorf("config: INACTIVITY_TIMEOUT must be positive")
	}
	if cfg.TranscodeConcurrency < 1 {
		cfg.TranscodeConcurrency = 1
	}
	if cfg.FrameBuffer < 1 {
		cfg.FrameBuffer = 1
	}
	if cfg.ProvidersFile != "" {
		b, err := os.ReadFile(cfg.ProvidersFile)
		if err != nil {
			return cfg, fmt.Errorf("config: read providers file: %w", err)
		}
		if err := cfg.MergeProviders(b); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// MergeProviders overlays a YAML provider catalog on the env settings. Only
// non-empty fields override.
func (c *Config) MergeProviders(doc []byte) error {
	var f providersFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return fmt.Errorf("config: parse providers file: %w", err)
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for _, p := range f.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("config: provider entry without name")
		}
		cur := c.Providers[name]
		cur.Name = name
		overlay(&cur.URL, p.URL)
		overlay(&cur.APIKey, p.APIKey)
		overlay(&cur.Model, p.Model)
		overlay(&cur.Region, p.Region)
		overlay(&cur.Endpoint, p.Endpoint)
		overlay(&cur.Deployment, p.Deployment)
		overlay(&cur.APIVersion, p.APIVersion)
		if len(p.Headers) > 0 {
			if cur.Headers == nil {
				cur.Headers = map[string]string{}
			}
			for k, v := range p.Headers {
				cur.Headers[k] = v
			}
		}
		c.Providers[name] = cur
	}
	return nil
}

// BaseURL is the externally reachable http(s) base of the server.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	host := c.PublicHost
	if host == "" {
		host = "localhost:" + c.Port
	}
	return scheme + "://" + host
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return d
}

func getbool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func getduration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return d
}
