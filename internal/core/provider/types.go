package provider

import (
	"fmt"
	"strings"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
)

// Provider names one realtime conversational-AI vendor.
type Provider string

const (
	OpenAI Provider = "openai"
	Azure  Provider = "azure"
	Google Provider = "google"
	Qwen   Provider = "qwen"
)

func Parse(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case OpenAI, Azure, Google, Qwen:
		return p, nil
	case "gemini":
		return Google, nil
	case "azure-openai", "azure_openai":
		return Azure, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

type Tool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`
}

type TurnDetection struct {
	// "server_vad", "semantic_vad" or "none"
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionOptions is the vendor-neutral assistant configuration resolved by the
// business layer before a call is relayed.
type SessionOptions struct {
	Model              string         `json:"model,omitempty"`
	Voice              string         `json:"voice,omitempty"`
	Instructions       string         `json:"instructions,omitempty"`
	Tools              []Tool         `json:"tools,omitempty"`
	TurnDetection      *TurnDetection `json:"turn_detection,omitempty"`
	Temperature        *float32       `json:"temperature,omitempty"`
	InputTranscription bool           `json:"input_transcription,omitempty"`
	Language           string         `json:"language,omitempty"`
}

type EventType int

const (
	EventUnknown EventType = iota
	EventSessionInitialized
	EventSpeechDetected
	EventSpeechEnded
	EventTranscriptionPartial
	EventTranscriptionCompleted
	EventAudioDelta
	EventAudioDone
	EventTurnCompleted
	EventFunctionCallSuggested
	EventError
	EventConnectionStateChanged
)

var eventNames = map[EventType]string{
	EventUnknown:                "Unknown",
	EventSessionInitialized:     "SessionInitialized",
	EventSpeechDetected:         "SpeechDetected",
	EventSpeechEnded:            "SpeechEnded",
	EventTranscriptionPartial:   "TranscriptionPartial",
	EventTranscriptionCompleted: "TranscriptionCompleted",
	EventAudioDelta:             "AudioDelta",
	EventAudioDone:              "AudioDone",
	EventTurnCompleted:          "TurnCompleted",
	EventFunctionCallSuggested:  "FunctionCallSuggested",
	EventError:                  "Error",
	EventConnectionStateChanged: "ConnectionStateChanged",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Error struct {
	Code     string
	Message  string
	Critical bool
}

type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ParsedEvent is the normalized form of one raw provider message.
type ParsedEvent struct {
	Type   EventType
	ItemID string
	// Role is set on transcription events.
	Role  string
	Text  string
	Audio []byte
	Error *Error
	// FunctionCalls holds every call a message suggested, first one first.
	FunctionCalls []FunctionCall
	State         string
	// EndOfTurn marks a message that also closed the assistant turn.
	EndOfTurn bool
	Raw       string
}

// Adapter translates between SessionOptions/ParsedEvent and one vendor's wire
// protocol. Implementations hold no mutable state and perform no I/O.
type Adapter interface {
	Provider() Provider
	// InputFormat is the audio format the vendor expects from the caller.
	InputFormat() audio.Format
	// OutputFormat is the audio format of AudioDelta payloads.
	OutputFormat() audio.Format
	InitialSessionPayload(opts SessionOptions, sessionID string) ([]byte, error)
	AudioAppendMessage(data []byte) ([]byte, error)
	TextUserMessage(text, sessionID string) ([][]byte, error)
	// InterruptMessage returns nil when the vendor cancels server-side.
	InterruptMessage(lastItemID string, audioEndMs int) ([]byte, error)
	ParseMessage(raw []byte) ParsedEvent
}
