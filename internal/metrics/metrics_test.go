package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	t.Parallel()

	m := New("")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded("openai", "inactivity_timeout", 3*time.Second)
	m.Audio("openai", Inbound, 320)
	m.Audio("openai", Inbound, 0)
	m.Dropped(Outbound, "interrupted")
	m.Transcode("MULAW@8000", "PCM16@24000", time.Millisecond, nil)
	m.Transcode("MULAW@8000", "PCM16@24000", time.Millisecond, errors.New("x"))
	m.ProviderEvent("openai", "AudioDelta")
	m.Interrupted("openai")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"voice_relay_sessions_active 1",
		`voice_relay_sessions_total{provider="openai",reason="inactivity_timeout"} 1`,
		`voice_relay_audio_bytes_total{direction="inbound",provider="openai"} 320`,
		`voice_relay_frames_dropped_total{direction="outbound",reason="interrupted"} 1`,
		`voice_relay_transcode_duration_seconds_count{from="MULAW@8000",status="error",to="PCM16@24000"} 1`,
		`voice_relay_interruptions_total{provider="openai"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
