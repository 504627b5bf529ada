package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
)

// Leg is the telephony side of a session. Read is only called from the
// session's reader goroutine; writes may come from anywhere.
type Leg interface {
	Read() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	Close(code int, reason string) error
	Done() <-chan struct{}
}

// Events sent to the telephony leg.
const (
	EventResponseAudioDelta     = "ResponseAudioDelta"
	EventSpeechDetected         = "SpeechDetected"
	EventAiTurnCompleted        = "AiTurnCompleted"
	EventTranscriptionPartial   = "TranscriptionPartial"
	EventTranscriptionCompleted = "TranscriptionCompleted"
	EventClientError            = "ClientError"
)

type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	// Audio is base64 in the negotiated output format.
	Audio   string `json:"audio,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartFrame is the first message on the telephony leg. It negotiates codecs
// and carries the assistant configuration resolved by the caller.
type StartFrame struct {
	Type             string                  `json:"type"`
	SessionID        string                  `json:"session_id,omitempty"`
	Provider         string                  `json:"provider"`
	InputCodec       string                  `json:"input_codec"`
	InputSampleRate  int                     `json:"input_sample_rate"`
	OutputCodec      string                  `json:"output_codec,omitempty"`
	OutputSampleRate int                     `json:"output_sample_rate,omitempty"`
	Assistant        provider.SessionOptions `json:"assistant"`

	In  audio.Format `json:"-"`
	Out audio.Format `json:"-"`
}

// frame is any message after start.
type frame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
	Text  string `json:"text"`
}

const startSchemaDoc = `{
  "type": "object",
  "required": ["type", "provider", "input_codec", "input_sample_rate"],
  "properties": {
    "type": {"const": "start"},
    "session_id": {"type": "string", "maxLength": 128},
    "provider": {"type": "string", "minLength": 1},
    "input_codec": {"type": "string", "minLength": 1},
    "input_sample_rate": {"type": "integer", "minimum": 8000, "maximum": 48000},
    "output_codec": {"type": "string"},
    "output_sample_rate": {"type": "integer", "minimum": 8000, "maximum": 48000},
    "assistant": {
      "type": "object",
      "properties": {
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "tools": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string", "minLength": 1}}
          }
        },
        "turn_detection": {
          "type": "object",
          "properties": {"type": {"enum": ["server_vad", "semantic_vad", "none"]}}
        }
      }
    }
  }
}`

var startSchema = jsonschema.MustCompileString("start.schema.json", startSchemaDoc)

var ErrNoStart = errors.New("relay: expected a start frame")

// ParseStart validates and decodes a start frame, resolving codec aliases.
// The output format defaults to the input format.
func ParseStart(raw []byte) (StartFrame, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return StartFrame{}, fmt.Errorf("%w: %v", ErrNoStart, err)
	}
	if err := startSchema.Validate(doc); err != nil {
		return StartFrame{}, fmt.Errorf("relay: invalid start frame: %w", err)
	}
	var s StartFrame
	if err := json.Unmarshal(raw, &s); err != nil {
		return StartFrame{}, fmt.Errorf("relay: invalid start frame: %w", err)
	}
	in, err := audio.ParseCodec(s.InputCodec)
	if err != nil {
		return StartFrame{}, err
	}
	s.In = audio.Format{Codec: in, SampleRate: s.InputSampleRate}
	s.Out = s.In
	if s.OutputCodec != "" {
		out, err := audio.ParseCodec(s.OutputCodec)
		if err != nil {
			return StartFrame{}, err
		}
		s.Out.Codec = out
	}
	if s.OutputSampleRate != 0 {
		s.Out.SampleRate = s.OutputSampleRate
	}
	return s, nil
}

// AwaitStart reads the first frame of the leg, which must be a start frame.
func AwaitStart(leg Leg) (StartFrame, error) {
	mt, data, err := leg.Read()
	if err != nil {
		return StartFrame{}, err
	}
	if mt != websocket.TextMessage {
		return StartFrame{}, ErrNoStart
	}
	return ParseStart(data)
}
