package provider

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
)

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("invalid json %s: %v", b, err)
	}
	return m
}

func TestOpenAIInitialSessionPayload(t *testing.T) {
	t.Parallel()

	temp := float32(0.7)
	b, err := NewOpenAI().InitialSessionPayload(SessionOptions{
		Voice:              "verse",
		Instructions:       "You are a restaurant host.",
		Temperature:        &temp,
		InputTranscription: true,
		Tools: []Tool{{
			Name:        "book_table",
			Description: "Reserve a table",
			Parameters:  map[string]any{"type": "object"},
		}},
		TurnDetection: &TurnDetection{Type: "server_vad", SilenceDurationMs: 500},
	}, "sess_1")
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	m := decode(t, b)
	if m["type"] != "session.update" {
		t.Fatalf("type=%v, want session.update", m["type"])
	}
	s := m["session"].(map[string]any)
	if s["voice"] != "verse" || s["instructions"] != "You are a restaurant host." {
		t.Fatalf("unexpected session fields: %v", s)
	}
	if s["input_audio_format"] != "pcm16" || s["output_audio_format"] != "pcm16" {
		t.Fatalf("unexpected audio formats: %v", s)
	}
	td := s["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" || td["silence_duration_ms"].(float64) != 500 {
		t.Fatalf("unexpected turn detection: %v", td)
	}
	tools := s["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["type"] != "function" || s["tool_choice"] != "auto" {
		t.Fatalf("unexpected tools: %v", tools)
	}
	if s["input_audio_transcription"].(map[string]any)["model"] != "whisper-1" {
		t.Fatalf("expected whisper transcription")
	}
}

func TestOpenAITurnDetectionNoneIsNull(t *testing.T) {
	t.Parallel()

	b, err := NewOpenAI().InitialSessionPayload(SessionOptions{TurnDetection: &TurnDetection{Type: "none"}}, "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := decode(t, b)["session"].(map[string]any)
	v, ok := s["turn_detection"]
	if !ok || v != nil {
		t.Fatalf("expected explicit null turn_detection, got %v (present=%v)", v, ok)
	}
	if s["voice"] != "alloy" {
		t.Fatalf("expected default voice, got %v", s["voice"])
	}
}

func TestQwenDialect(t *testing.T) {
	t.Parallel()

	a := NewQwen()
	if a.InputFormat() != (audio.Format{Codec: audio.CodecPCM16, SampleRate: 16000}) {
		t.Fatalf("unexpected qwen input format %s", a.InputFormat())
	}
	b, _ := a.InitialSessionPayload(SessionOptions{}, "s")
	s := decode(t, b)["session"].(map[string]any)
	if s["output_audio_format"] != "pcm24" || s["voice"] != "Chelsie" {
		t.Fatalf("unexpected qwen session: %v", s)
	}
	msg, _ := a.InterruptMessage("item_1", 300)
	if decode(t, msg)["type"] != "response.cancel" {
		t.Fatalf("qwen interrupt should cancel the response")
	}
}

func TestOpenAIAudioAppendAndText(t *testing.T) {
	t.Parallel()

	a := NewAzure()
	if a.Provider() != Azure {
		t.Fatalf("provider=%s, want azure", a.Provider())
	}
	b, err := a.AudioAppendMessage([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := decode(t, b)
	if m["type"] != "input_audio_buffer.append" || m["audio"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("unexpected append: %v", m)
	}

	msgs, err := a.TextUserMessage("hello", "s")
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d (%v)", len(msgs), err)
	}
	if decode(t, msgs[0])["type"] != "conversation.item.create" || decode(t, msgs[1])["type"] != "response.create" {
		t.Fatalf("unexpected text message sequence")
	}
	if _, err := a.TextUserMessage("  ", "s"); err == nil {
		t.Fatalf("expected empty text to fail")
	}
}

func TestOpenAIInterruptMessage(t *testing.T) {
	t.Parallel()

	a := NewOpenAI()
	b, _ := a.InterruptMessage("item_42", 1250)
	m := decode(t, b)
	if m["type"] != "conversation.item.truncate" || m["item_id"] != "item_42" || m["audio_end_ms"].(float64) != 1250 {
		t.Fatalf("unexpected truncate: %v", m)
	}
	b, _ = a.InterruptMessage("", 0)
	if decode(t, b)["type"] != "response.cancel" {
		t.Fatalf("expected response.cancel without item id")
	}
}

func TestOpenAIParseMessage(t *testing.T) {
	t.Parallel()

	audioB64 := base64.StdEncoding.EncodeToString([]byte{9, 8, 7, 6})
	cases := []struct {
		name  string
		raw   string
		want  EventType
		check func(t *testing.T, ev ParsedEvent)
	}{
		{"session created", `{"type":"session.created","session":{"id":"sess_abc"}}`, EventSessionInitialized, func(t *testing.T, ev ParsedEvent) {
			if ev.State != "sess_abc" {
				t.Fatalf("state=%q", ev.State)
			}
		}},
		{"speech started", `{"type":"input_audio_buffer.speech_started","item_id":"item_u1","audio_start_ms":100}`, EventSpeechDetected, func(t *testing.T, ev ParsedEvent) {
			if ev.ItemID != "item_u1" {
				t.Fatalf("item=%q", ev.ItemID)
			}
		}},
		{"speech stopped", `{"type":"input_audio_buffer.speech_stopped"}`, EventSpeechEnded, nil},
		{"user transcript", `{"type":"conversation.item.input_audio_transcription.completed","item_id":"i","transcript":"two people"}`, EventTranscriptionCompleted, func(t *testing.T, ev ParsedEvent) {
			if ev.Role != RoleUser || ev.Text != "two people" {
				t.Fatalf("role=%q text=%q", ev.Role, ev.Text)
			}
		}},
		{"assistant transcript delta", `{"type":"response.audio_transcript.delta","item_id":"a1","delta":"Sure"}`, EventTranscriptionPartial, func(t *testing.T, ev ParsedEvent) {
			if ev.Role != RoleAssistant || ev.Text != "Sure" {
				t.Fatalf("role=%q text=%q", ev.Role, ev.Text)
			}
		}},
		{"audio delta", `{"type":"response.audio.delta","item_id":"a1","delta":"` + audioB64 + `"}`, EventAudioDelta, func(t *testing.T, ev ParsedEvent) {
			if len(ev.Audio) != 4 || ev.ItemID != "a1" {
				t.Fatalf("audio=%v item=%q", ev.Audio, ev.ItemID)
			}
		}},
		{"ga audio delta", `{"type":"response.output_audio.delta","item_id":"a1","delta":"` + audioB64 + `"}`, EventAudioDelta, nil},
		{"audio delta bad base64", `{"type":"response.audio.delta","delta":"***"}`, EventUnknown, nil},
		{"audio done", `{"type":"response.audio.done","item_id":"a1"}`, EventAudioDone, nil},
		{"response done", `{"type":"response.done","response":{"id":"r1","status":"completed"}}`, EventTurnCompleted, func(t *testing.T, ev ParsedEvent) {
			if ev.State != "completed" {
				t.Fatalf("state=%q", ev.State)
			}
		}},
		{"function call", `{"type":"response.function_call_arguments.done","call_id":"c1","name":"book_table","arguments":"{\"size\":2}"}`, EventFunctionCallSuggested, func(t *testing.T, ev ParsedEvent) {
			if len(ev.FunctionCalls) != 1 || ev.FunctionCalls[0].Name != "book_table" || ev.FunctionCalls[0].CallID != "c1" {
				t.Fatalf("calls=%+v", ev.FunctionCalls)
			}
		}},
		{"non-critical error", `{"type":"error","error":{"type":"invalid_request_error","code":"invalid_value","message":"bad"}}`, EventError, func(t *testing.T, ev ParsedEvent) {
			if ev.Error == nil || ev.Error.Critical || ev.Error.Code != "invalid_value" {
				t.Fatalf("error=%+v", ev.Error)
			}
		}},
		{"critical error", `{"type":"error","error":{"type":"invalid_request_error","code":"session_expired","message":"expired"}}`, EventError, func(t *testing.T, ev ParsedEvent) {
			if ev.Error == nil || !ev.Error.Critical {
				t.Fatalf("expected critical error, got %+v", ev.Error)
			}
		}},
		{"error without body", `{"type":"error"}`, EventUnknown, nil},
		{"rate limits", `{"type":"rate_limits.updated","rate_limits":[]}`, EventUnknown, nil},
		{"no known fields", `{"foo":"bar","baz":[1,2,3]}`, EventUnknown, nil},
		{"malformed", `{"type":"response.audio.delta",`, EventUnknown, nil},
		{"wrong field type", `{"type":123}`, EventUnknown, nil},
	}
	a := NewOpenAI()
	for _, tc := range cases {
		ev := a.ParseMessage([]byte(tc.raw))
		if ev.Type != tc.want {
			t.Fatalf("%s: type=%s, want %s", tc.name, ev.Type, tc.want)
		}
		if ev.Raw != tc.raw {
			t.Fatalf("%s: raw not preserved", tc.name)
		}
		if tc.check != nil {
			tc.check(t, ev)
		}
	}
}
