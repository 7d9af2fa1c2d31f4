package connection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/protocol"
)

// Kind is the service scenario a connection serves.
type Kind int

const (
	KindSpeech Kind = iota
	KindTranslation
	KindSynthesis
	KindDialog
	KindConversation
)

func (k Kind) String() string {
	switch k {
	case KindSpeech:
		return "speech"
	case KindTranslation:
		return "translation"
	case KindSynthesis:
		return "synthesis"
	case KindDialog:
		return "dialog"
	case KindConversation:
		return "conversation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// RecognitionMode selects the speech recognition endpoint.
type RecognitionMode string

const (
	ModeInteractive  RecognitionMode = "interactive"
	ModeConversation RecognitionMode = "conversation"
	ModeDictation    RecognitionMode = "dictation"
)

// TurnStart is the per-turn context a scenario fills in before the turn's
// first message is sent.
type TurnStart struct {
	RequestID   string
	ContextPath string
	Context     *protocol.SpeechContext
}

// Scenario captures what differs between service scenarios: where to
// connect and what context each turn carries.
type Scenario interface {
	Kind() Kind
	BuildEndpoint(props properties.Bag) (*url.URL, error)
	DecorateTurnStart(props properties.Bag, ts *TurnStart)
}

// NewScenario returns the scenario for kind. For KindSpeech the recognition
// mode is read from the RecognitionMode property at endpoint build time.
func NewScenario(kind Kind) (Scenario, error) {
	switch kind {
	case KindSpeech:
		return SpeechScenario{}, nil
	case KindTranslation:
		return TranslationScenario{}, nil
	case KindSynthesis:
		return SynthesisScenario{}, nil
	case KindDialog:
		return DialogScenario{}, nil
	case KindConversation:
		return ConversationScenario{}, nil
	}
	return nil, fmt.Errorf("unknown scenario kind %d", int(kind))
}

// SpeechScenario is speech-to-text recognition.
type SpeechScenario struct {
	// Mode overrides the RecognitionMode property when set.
	Mode RecognitionMode
}

func (SpeechScenario) Kind() Kind { return KindSpeech }

func (s SpeechScenario) mode(props properties.Bag) RecognitionMode {
	if s.Mode != "" {
		return s.Mode
	}
	switch RecognitionMode(strings.ToLower(props.Get(properties.RecognitionMode, ""))) {
	case ModeConversation:
		return ModeConversation
	case ModeDictation:
		return ModeDictation
	}
	return ModeInteractive
}

func (s SpeechScenario) BuildEndpoint(props properties.Bag) (*url.URL, error) {
	return buildEndpoint(props, endpointSpec{
		HostPrefix: "stt",
		Path:       fmt.Sprintf("/speech/recognition/%s/cognitiveservices/v1", s.mode(props)),
		Params:     recognitionParams,
	})
}

func (s SpeechScenario) DecorateTurnStart(props properties.Bag, ts *TurnStart) {
	ts.ContextPath = protocol.PathSpeechContext
	ctx := ensureContext(ts)
	addPhraseList(props, ctx)
	if props.Get(properties.WordLevelTimestamps, "") == "true" {
		if ctx.PhraseOutput == nil {
			ctx.PhraseOutput = &protocol.PhraseOutput{}
		}
		ctx.PhraseOutput.WordLevelTimings = true
	}
	if f := outputFormat(props.Get(properties.OutputFormat, "")); f != "" {
		if ctx.PhraseOutput == nil {
			ctx.PhraseOutput = &protocol.PhraseOutput{}
		}
		ctx.PhraseOutput.Format = f
	}
	if s.mode(props) == ModeDictation {
		if ctx.PhraseDetect == nil {
			ctx.PhraseDetect = &protocol.PhraseDetection{}
		}
		ctx.PhraseDetect.Mode = "dictation"
	}
}

// TranslationScenario is speech-to-speech or speech-to-text translation.
type TranslationScenario struct{}

func (TranslationScenario) Kind() Kind { return KindTranslation }

func (TranslationScenario) BuildEndpoint(props properties.Bag) (*url.URL, error) {
	params := []queryParam{
		{Property: properties.RecognitionLanguage, Name: "from"},
		{Property: properties.TranslationToLanguages, Name: "to", Multi: true},
		{Property: properties.TranslationVoice, Name: "voice"},
		{Property: properties.TranslationFeatures, Name: "features"},
	}
	params = append(params, recognitionParams[1:]...)
	return buildEndpoint(props, endpointSpec{
		HostPrefix: "s2s",
		Path:       "/speech/translation/cognitiveservices/v1",
		Params:     params,
	})
}

func (TranslationScenario) DecorateTurnStart(props properties.Bag, ts *TurnStart) {
	ts.ContextPath = protocol.PathSpeechContext
	ctx := ensureContext(ts)
	addPhraseList(props, ctx)
	if targets := splitList(props.Get(properties.TranslationToLanguages, "")); len(targets) > 0 {
		ctx.Translation = &protocol.TranslationContext{
			Targets: targets,
			Voice:   props.Get(properties.TranslationVoice, ""),
		}
	}
}

// SynthesisScenario is text-to-speech over the WebSocket endpoint.
type SynthesisScenario struct{}

const defaultSynthesisFormat = "riff-24khz-16bit-mono-pcm"

func (SynthesisScenario) Kind() Kind { return KindSynthesis }

func (SynthesisScenario) BuildEndpoint(props properties.Bag) (*url.URL, error) {
	return buildEndpoint(props, endpointSpec{
		HostPrefix: "tts",
		Path:       "/cognitiveservices/websocket/v1",
		Params: []queryParam{
			{Property: properties.EndpointID, Name: "deploymentId"},
		},
	})
}

func (SynthesisScenario) DecorateTurnStart(props properties.Bag, ts *TurnStart) {
	ts.ContextPath = protocol.PathSynthesisContext
	ctx := ensureContext(ts)
	ctx.Synthesis = &protocol.SynthesisContext{
		Audio: protocol.SynthesisAudio{
			OutputFormat: props.Get(properties.SynthesisOutputFormat, defaultSynthesisFormat),
			MetadataOptions: protocol.SynthesisOptions{
				WordBoundaryEnabled:     true,
				SentenceBoundaryEnabled: false,
				BookmarkEnabled:         true,
			},
		},
	}
}

// DialogScenario is a voice assistant connection.
type DialogScenario struct{}

func (DialogScenario) Kind() Kind { return KindDialog }

func (DialogScenario) BuildEndpoint(props properties.Bag) (*url.URL, error) {
	return buildEndpoint(props, endpointSpec{
		HostPrefix: "convai",
		Path:       "/api/v3",
		Params: []queryParam{
			{Property: properties.RecognitionLanguage, Name: "language"},
			{Property: properties.OutputFormat, Name: "format", Transform: outputFormat},
		},
	})
}

func (DialogScenario) DecorateTurnStart(props properties.Bag, ts *TurnStart) {
	ts.ContextPath = protocol.PathSpeechContext
	ctx := ensureContext(ts)
	addPhraseList(props, ctx)
	dialog := map[string]any{"version": props.Get(properties.DialogAPIVersion, "0.5")}
	if app := props.Get(properties.DialogApplicationID, ""); app != "" {
		dialog["applicationId"] = app
	}
	ctx.Dialog = dialog
}

// ConversationScenario is multi-party conversation transcription.
type ConversationScenario struct{}

func (ConversationScenario) Kind() Kind { return KindConversation }

func (ConversationScenario) BuildEndpoint(props properties.Bag) (*url.URL, error) {
	params := append([]queryParam{}, recognitionParams...)
	params = append(params, queryParam{Property: properties.ConversationID, Name: "meetingId"})
	return buildEndpoint(props, endpointSpec{
		HostPrefix: "cts",
		Subdomain:  "transcribe.",
		Path:       "/speech/recognition/dynamicaudio",
		Params:     params,
	})
}

func (ConversationScenario) DecorateTurnStart(props properties.Bag, ts *TurnStart) {
	ts.ContextPath = protocol.PathSpeechContext
	addPhraseList(props, ensureContext(ts))
}

func ensureContext(ts *TurnStart) *protocol.SpeechContext {
	if ts.Context == nil {
		ts.Context = &protocol.SpeechContext{}
	}
	return ts.Context
}

func addPhraseList(props properties.Bag, ctx *protocol.SpeechContext) {
	phrases := splitPhrases(props.Get(properties.PhraseList, ""))
	if len(phrases) == 0 {
		return
	}
	if ctx.DynamicGrammar == nil {
		ctx.DynamicGrammar = &protocol.DynamicGrammar{}
	}
	ctx.DynamicGrammar.AddPhrases(phrases...)
}

// splitPhrases splits on ';' only, since phrases may contain commas.
func splitPhrases(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
