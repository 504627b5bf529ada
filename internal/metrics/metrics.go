package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	AudioBytesTotal  *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	TranscodeSeconds *prometheus.HistogramVec
	ProviderEvents   *prometheus.CounterVec
	Interruptions    *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice_relay"
	}
	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of relayed sessions currently open",
	})
	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Finished sessions by provider and end reason",
	}, []string{"provider", "reason"})
	sessionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Relayed session duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"provider"})
	audioBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "Audio bytes relayed, after transcoding",
	}, []string{"provider", "direction"})
	framesDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Audio frames dropped instead of relayed",
	}, []string{"direction", "reason"})
	transcode := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcode_duration_seconds",
		Help:      "Time spent converting one audio frame",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25},
	}, []string{"from", "to", "status"})
	providerEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_events_total",
		Help:      "Parsed provider events by type",
	}, []string{"provider", "type"})
	interruptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interruptions_total",
		Help:      "Caller barge-ins that cancelled assistant audio",
	}, []string{"provider"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioBytes,
		framesDropped,
		transcode,
		providerEvents,
		interruptions,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		AudioBytesTotal:  audioBytes,
		FramesDropped:    framesDropped,
		TranscodeSeconds: transcode,
		ProviderEvents:   providerEvents,
		Interruptions:    interruptions,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(provider, reason string, d time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(provider, reason).Inc()
	m.SessionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Audio directions.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

func (m *Metrics) Audio(provider, direction string, n int) {
	if n > 0 {
		m.AudioBytesTotal.WithLabelValues(provider, direction).Add(float64(n))
	}
}

func (m *Metrics) Dropped(direction, reason string) {
	m.FramesDropped.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) Transcode(from, to string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TranscodeSeconds.WithLabelValues(from, to, status).Observe(took.Seconds())
}

func (m *Metrics) ProviderEvent(provider, eventType string) {
	m.ProviderEvents.WithLabelValues(provider, eventType).Inc()
}

func (m *Metrics) Interrupted(provider string) {
	m.Interruptions.WithLabelValues(provider).Inc()
}
