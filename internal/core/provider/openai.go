package provider

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
)

// openAIDialect captures the differences between vendors speaking the
// OpenAI realtime event protocol.
type openAIDialect struct {
	provider           Provider
	in, out            audio.Format
	inWire, outWire    string
	transcriptionModel string
	defaultVoice       string
	modalities         []string
	// truncate: the vendor accepts conversation.item.truncate
	truncate bool
}

type openAIAdapter struct {
	d openAIDialect
}

var pcm24k = audio.Format{Codec: audio.CodecPCM16, SampleRate: 24000}

func NewOpenAI() Adapter {
	return &openAIAdapter{d: openAIDialect{
		provider:           OpenAI,
		in:                 pcm24k,
		out:                pcm24k,
		inWire:             "pcm16",
		outWire:            "pcm16",
		transcriptionModel: "whisper-1",
		defaultVoice:       "alloy",
		modalities:         []string{"audio", "text"},
		truncate:           true,
	}}
}

// NewAzure speaks the same protocol as OpenAI; only the endpoint and the
// api-key header differ.
func NewAzure() Adapter {
	a := NewOpenAI().(*openAIAdapter)
	a.d.provider = Azure
	return a
}

func NewQwen() Adapter {
	return &openAIAdapter{d: openAIDialect{
		provider:           Qwen,
		in:                 audio.Format{Codec: audio.CodecPCM16, SampleRate: 16000},
		out:                pcm24k,
		inWire:             "pcm16",
		outWire:            "pcm24",
		transcriptionModel: "gummy-realtime-v1",
		defaultVoice:       "Chelsie",
		modalities:         []string{"text", "audio"},
	}}
}

func (a *openAIAdapter) Provider() Provider         { return a.d.provider }
func (a *openAIAdapter) InputFormat() audio.Format  { return a.d.in }
func (a *openAIAdapter) OutputFormat() audio.Format { return a.d.out }

type oaiTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type oaiTurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool     `json:"create_response"`
	InterruptResponse bool     `json:"interrupt_response"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type oaiSession struct {
	Modalities              []string          `json:"modalities"`
	Model                   string            `json:"model,omitempty"`
	Instructions            string            `json:"instructions,omitempty"`
	Voice                   string            `json:"voice,omitempty"`
	InputAudioFormat        string            `json:"input_audio_format"`
	OutputAudioFormat       string            `json:"output_audio_format"`
	InputAudioTranscription *oaiTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *oaiTurnDetection `json:"turn_detection"`
	Tools                   []oaiTool         `json:"tools,omitempty"`
	ToolChoice              string            `json:"tool_choice,omitempty"`
	Temperature             *float32          `json:"temperature,omitempty"`
}

type oaiSessionUpdate struct {
	Type    string     `json:"type"`
	EventID string     `json:"event_id"`
	Session oaiSession `json:"session"`
}

type oaiAudioAppend struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Audio   string `json:"audio"`
}

type oaiContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type oaiItem struct {
	Type    string       `json:"type"`
	Role    string       `json:"role"`
	Content []oaiContent `json:"content"`
}

type oaiItemCreate struct {
	Type    string  `json:"type"`
	EventID string  `json:"event_id"`
	Item    oaiItem `json:"item"`
}

type oaiBare struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type oaiTruncate struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

func eventID() string { return "evt_" + uuid.NewString() }

func (a *openAIAdapter) InitialSessionPayload(opts SessionOptions, sessionID string) ([]byte, error) {
	s := oaiSession{
		Modalities:        a.d.modalities,
		Model:             opts.Model,
		Instructions:      opts.Instructions,
		Voice:             opts.Voice,
		InputAudioFormat:  a.d.inWire,
		OutputAudioFormat: a.d.outWire,
		Temperature:       opts.Temperature,
	}
	if s.Voice == "" {
		s.Voice = a.d.defaultVoice
	}
	if opts.InputTranscription {
		s.InputAudioTranscription = &oaiTranscription{Model: a.d.transcriptionModel, Language: opts.Language}
	}
	s.TurnDetection = a.turnDetection(opts.TurnDetection)
	for _, t := range opts.Tools {
		s.Tools = append(s.Tools, oaiTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	if len(s.Tools) > 0 {
		s.ToolChoice = "auto"
	}
	return json.Marshal(oaiSessionUpdate{Type: "session.update", EventID: eventID(), Session: s})
}

func (a *openAIAdapter) turnDetection(td *TurnDetection) *oaiTurnDetection {
	if td == nil {
		return &oaiTurnDetection{Type: "server_vad", CreateResponse: true, InterruptResponse: true}
	}
	if td.Type == "none" {
		return nil
	}
	out := &oaiTurnDetection{Type: td.Type, CreateResponse: true, InterruptResponse: true}
	if out.Type == "" {
		out.Type = "server_vad"
	}
	if td.Threshold > 0 {
		v := td.Threshold
		out.Threshold = &v
	}
	if td.PrefixPaddingMs > 0 {
		v := td.PrefixPaddingMs
		out.PrefixPaddingMs = &v
	}
	if td.SilenceDurationMs > 0 {
		v := td.SilenceDurationMs
		out.SilenceDurationMs = &v
	}
	return out
}

func (a *openAIAdapter) AudioAppendMessage(data []byte) ([]byte, error) {
	return json.Marshal(oaiAudioAppend{
		Type:    "input_audio_buffer.append",
		EventID: eventID(),
		Audio:   base64.StdEncoding.EncodeToString(data),
	})
}

func (a *openAIAdapter) TextUserMessage(text, sessionID string) ([][]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("provider: empty text message")
	}
	item, err := json.Marshal(oaiItemCreate{
		Type:    "conversation.item.create",
		EventID: eventID(),
		Item: oaiItem{
			Type:    "message",
			Role:    RoleUser,
			Content: []oaiContent{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := json.Marshal(oaiBare{Type: "response.create", EventID: eventID()})
	if err != nil {
		return nil, err
	}
	return [][]byte{item, resp}, nil
}

// InterruptMessage truncates the interrupted item to what the caller heard.
// Without an item id, or on vendors lacking truncate, the response is cancelled.
func (a *openAIAdapter) InterruptMessage(lastItemID string, audioEndMs int) ([]byte, error) {
	if lastItemID == "" || !a.d.truncate {
		return json.Marshal(oaiBare{Type: "response.cancel", EventID: eventID()})
	}
	if audioEndMs < 0 {
		audioEndMs = 0
	}
	return json.Marshal(oaiTruncate{
		Type:       "conversation.item.truncate",
		EventID:    eventID(),
		ItemID:     lastItemID,
		AudioEndMs: audioEndMs,
	})
}

type oaiServerEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Session    *struct {
		ID string `json:"id"`
	} `json:"session"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

var criticalErrorTypes = map[string]bool{
	"authentication_error": true,
	"server_error":         true,
}

var criticalErrorCodes = map[string]bool{
	"session_expired":    true,
	"invalid_api_key":    true,
	"insufficient_quota": true,
}

func (a *openAIAdapter) ParseMessage(raw []byte) ParsedEvent {
	ev := ParsedEvent{Type: EventUnknown, Raw: string(raw)}
	var m oaiServerEvent
	if err := json.Unmarshal(raw, &m); err != nil {
		return ev
	}
	ev.ItemID = m.ItemID

	switch m.Type {
	case "session.created", "session.updated":
		ev.Type = EventSessionInitialized
		if m.Session != nil {
			ev.State = m.Session.ID
		}
	case "input_audio_buffer.speech_started":
		ev.Type = EventSpeechDetected
	case "input_audio_buffer.speech_stopped":
		ev.Type = EventSpeechEnded
	case "conversation.item.input_audio_transcription.delta":
		ev.Type, ev.Role, ev.Text = EventTranscriptionPartial, RoleUser, m.Delta
	case "conversation.item.input_audio_transcription.completed":
		ev.Type, ev.Role, ev.Text = EventTranscriptionCompleted, RoleUser, m.Transcript
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		ev.Type, ev.Role, ev.Text = EventTranscriptionPartial, RoleAssistant, m.Delta
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		ev.Type, ev.Role, ev.Text = EventTranscriptionCompleted, RoleAssistant, m.Transcript
	case "response.audio.delta", "response.output_audio.delta":
		data, err := base64.StdEncoding.DecodeString(m.Delta)
		if err != nil || len(data) == 0 {
			return ParsedEvent{Type: EventUnknown, Raw: ev.Raw}
		}
		ev.Type, ev.Audio = EventAudioDelta, data
	case "response.audio.done", "response.output_audio.done":
		ev.Type = EventAudioDone
	case "response.done":
		ev.Type = EventTurnCompleted
		if m.Response != nil {
			ev.State = m.Response.Status
		}
	case "response.function_call_arguments.done":
		if m.Name == "" {
			return ev
		}
		ev.Type = EventFunctionCallSuggested
		ev.FunctionCalls = []FunctionCall{{CallID: m.CallID, Name: m.Name, Arguments: m.Arguments}}
	case "error":
		if m.Error == nil {
			return ev
		}
		ev.Type = EventError
		ev.Error = &Error{
			Code:     firstNonEmpty(m.Error.Code, m.Error.Type),
			Message:  m.Error.Message,
			Critical: criticalErrorTypes[m.Error.Type] || criticalErrorCodes[m.Error.Code],
		}
	}
	return ev
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
