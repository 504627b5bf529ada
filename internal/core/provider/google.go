package provider

import (
	"encoding/json"
	"errors"
	"mime"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
)

const defaultGeminiLiveModel = "models/gemini-2.0-flash-live-001"

// googleAdapter speaks the Gemini Live BidiGenerateContent protocol using the
// genai wire types.
type googleAdapter struct{}

func NewGoogle() Adapter { return googleAdapter{} }

func (googleAdapter) Provider() Provider { return Google }

func (googleAdapter) InputFormat() audio.Format {
	return audio.Format{Codec: audio.CodecPCM16, SampleRate: 16000}
}

func (googleAdapter) OutputFormat() audio.Format {
	return audio.Format{Codec: audio.CodecPCM16, SampleRate: 24000}
}

func (g googleAdapter) InitialSessionPayload(opts SessionOptions, sessionID string) ([]byte, error) {
	model := opts.Model
	if model == "" {
		model = defaultGeminiLiveModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := &genai.LiveClientSetup{
		Model: model,
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			Temperature:        opts.Temperature,
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if opts.Voice != "" || opts.Language != "" {
		sc := &genai.SpeechConfig{LanguageCode: opts.Language}
		if opts.Voice != "" {
			sc.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			}
		}
		setup.GenerationConfig.SpeechConfig = sc
	}
	if opts.Instructions != "" {
		setup.SystemInstruction = genai.NewContentFromText(opts.Instructions, genai.RoleUser)
	}
	if opts.InputTranscription {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if len(opts.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		setup.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if td := opts.TurnDetection; td != nil {
		aad := &genai.AutomaticActivityDetection{Disabled: td.Type == "none"}
		if td.PrefixPaddingMs > 0 {
			v := int32(td.PrefixPaddingMs)
			aad.PrefixPaddingMs = &v
		}
		if td.SilenceDurationMs > 0 {
			v := int32(td.SilenceDurationMs)
			aad.SilenceDurationMs = &v
		}
		setup.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: aad,
			ActivityHandling:           genai.ActivityHandlingStartOfActivityInterrupts,
		}
	}
	return json.Marshal(&genai.LiveClientMessage{Setup: setup})
}

func (g googleAdapter) AudioAppendMessage(data []byte) ([]byte, error) {
	return json.Marshal(&genai.LiveClientMessage{
		RealtimeInput: &genai.LiveClientRealtimeInput{
			MediaChunks: []*genai.Blob{{
				MIMEType: "audio/pcm;rate=16000",
				Data:     data,
			}},
		},
	})
}

func (g googleAdapter) TextUserMessage(text, sessionID string) ([][]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("provider: empty text message")
	}
	b, err := json.Marshal(&genai.LiveClientMessage{
		ClientContent: &genai.LiveClientContent{
			Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
			TurnComplete: true,
		},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// InterruptMessage is nil: Gemini cancels generation itself on caller speech
// and reports it with serverContent.interrupted.
func (g googleAdapter) InterruptMessage(string, int) ([]byte, error) {
	return nil, nil
}

func (g googleAdapter) ParseMessage(raw []byte) ParsedEvent {
	ev := ParsedEvent{Type: EventUnknown, Raw: string(raw)}
	var m genai.LiveServerMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ev
	}

	switch {
	case m.SetupComplete != nil:
		ev.Type = EventSessionInitialized
		ev.State = m.SetupComplete.SessionID
	case m.ToolCall != nil && len(m.ToolCall.FunctionCalls) > 0:
		ev.Type = EventFunctionCallSuggested
		for _, fc := range m.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			args, _ := json.Marshal(fc.Args)
			ev.FunctionCalls = append(ev.FunctionCalls, FunctionCall{CallID: fc.ID, Name: fc.Name, Arguments: string(args)})
		}
	case m.GoAway != nil:
		ev.Type = EventConnectionStateChanged
		ev.State = "go_away"
	case m.ServerContent != nil:
		parseServerContent(m.ServerContent, &ev)
	}
	return ev
}

func parseServerContent(sc *genai.LiveServerContent, ev *ParsedEvent) {
	switch {
	case sc.Interrupted:
		ev.Type = EventSpeechDetected
		return
	case sc.ModelTurn != nil:
		var pcm []byte
		var text strings.Builder
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && isOutputAudio(p.InlineData.MIMEType) {
				pcm = append(pcm, p.InlineData.Data...)
			}
			if p.Text != "" && !p.Thought {
				text.WriteString(p.Text)
			}
		}
		switch {
		case len(pcm) > 0:
			ev.Type, ev.Audio = EventAudioDelta, pcm
		case text.Len() > 0:
			ev.Type, ev.Role, ev.Text = EventTranscriptionPartial, RoleAssistant, text.String()
		}
	case sc.InputTranscription != nil && sc.InputTranscription.Text != "":
		ev.Role, ev.Text = RoleUser, sc.InputTranscription.Text
		ev.Type = EventTranscriptionPartial
		if sc.InputTranscription.Finished {
			ev.Type = EventTranscriptionCompleted
		}
	case sc.OutputTranscription != nil && sc.OutputTranscription.Text != "":
		ev.Role, ev.Text = RoleAssistant, sc.OutputTranscription.Text
		ev.Type = EventTranscriptionPartial
		if sc.OutputTranscription.Finished {
			ev.Type = EventTranscriptionCompleted
		}
	case sc.TurnComplete:
		ev.Type = EventTurnCompleted
		return
	case sc.GenerationComplete:
		ev.Type = EventAudioDone
		return
	}

	if sc.TurnComplete && ev.Type != EventUnknown {
		ev.EndOfTurn = true
	}
}

// isOutputAudio accepts audio parts whose rate parameter, when present,
// matches the adapter's output format. Other rates are dropped rather than
// forwarded under the wrong label.
func isOutputAudio(mimeType string) bool {
	media, params, err := mime.ParseMediaType(mimeType)
	if err != nil || !strings.HasPrefix(media, "audio/") {
		return false
	}
	rate, ok := params["rate"]
	if !ok {
		return true
	}
	n, err := strconv.Atoi(rate)
	return err == nil && n == googleAdapter{}.OutputFormat().SampleRate
}
