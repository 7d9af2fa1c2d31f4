package protocol

import (
	"fmt"
	"runtime"

	json "github.com/goccy/go-json"
)

// SpeechConfig is the body of the speech.config message sent once per
// connection before the first turn.
type SpeechConfig struct {
	Context SpeechConfigContext `json:"context"`
}

type SpeechConfigContext struct {
	System SystemInfo `json:"system"`
	OS     OSInfo     `json:"os"`
	Audio  *AudioInfo `json:"audio,omitempty"`
}

type SystemInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Lang    string `json:"lang"`
}

type OSInfo struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

type AudioInfo struct {
	Source AudioSourceInfo `json:"source"`
}

type AudioSourceInfo struct {
	Type          string `json:"type"`
	SamplesPerSec int    `json:"samplespersec,omitempty"`
	BitsPerSample int    `json:"bitspersample,omitempty"`
	Channels      int    `json:"channelcount,omitempty"`
}

// NewSpeechConfig describes this SDK build to the service.
func NewSpeechConfig(version string, audio *AudioInfo) *SpeechConfig {
	return &SpeechConfig{Context: SpeechConfigContext{
		System: SystemInfo{Name: "SpeechSDK", Version: version, Build: "Go", Lang: "Go"},
		OS:     OSInfo{Platform: runtime.GOOS, Name: runtime.GOARCH, Version: runtime.Version()},
		Audio:  audio,
	}}
}

// SpeechContext is the per-turn context sent in speech.context (or
// synthesis.context for synthesis turns) before any audio.
type SpeechContext struct {
	DynamicGrammar *DynamicGrammar     `json:"dgi,omitempty"`
	PhraseOutput   *PhraseOutput       `json:"phraseOutput,omitempty"`
	PhraseDetect   *PhraseDetection    `json:"phraseDetection,omitempty"`
	Translation    *TranslationContext `json:"translation,omitempty"`
	Synthesis      *SynthesisContext   `json:"synthesis,omitempty"`
	Dialog         map[string]any      `json:"dialog,omitempty"`
}

// DynamicGrammar carries phrase lists and reference grammars.
type DynamicGrammar struct {
	ReferenceGrammars []string       `json:"ReferenceGrammars,omitempty"`
	Groups            []GrammarGroup `json:"Groups,omitempty"`
}

type GrammarGroup struct {
	Type  string          `json:"Type"`
	Items []GrammarPhrase `json:"Items"`
}

type GrammarPhrase struct {
	Text string `json:"Text"`
}

// AddPhrases appends phrases to the generic phrase list group.
func (g *DynamicGrammar) AddPhrases(phrases ...string) {
	if len(phrases) == 0 {
		return
	}
	var group *GrammarGroup
	for i := range g.Groups {
		if g.Groups[i].Type == "Generic" {
			group = &g.Groups[i]
			break
		}
	}
	if group == nil {
		g.Groups = append(g.Groups, GrammarGroup{Type: "Generic"})
		group = &g.Groups[len(g.Groups)-1]
	}
	for _, p := range phrases {
		group.Items = append(group.Items, GrammarPhrase{Text: p})
	}
}

func (g *DynamicGrammar) Empty() bool {
	return g == nil || (len(g.ReferenceGrammars) == 0 && len(g.Groups) == 0)
}

type PhraseOutput struct {
	Format           string `json:"format,omitempty"`
	WordLevelTimings bool   `json:"wordLevelTimings,omitempty"`
}

type PhraseDetection struct {
	Mode             string `json:"mode,omitempty"`
	InitialSilenceMs int    `json:"initialSilenceTimeout,omitempty"`
}

type TranslationContext struct {
	Targets []string `json:"targets"`
	Voice   string   `json:"voice,omitempty"`
}

type SynthesisContext struct {
	Audio SynthesisAudio `json:"audio"`
}

type SynthesisAudio struct {
	OutputFormat    string           `json:"outputFormat"`
	MetadataOptions SynthesisOptions `json:"metadataOptions"`
}

type SynthesisOptions struct {
	WordBoundaryEnabled     bool `json:"wordBoundaryEnabled"`
	SentenceBoundaryEnabled bool `json:"sentenceBoundaryEnabled"`
	BookmarkEnabled         bool `json:"bookmarkEnabled"`
}

// TurnStart is the body of turn.start.
type TurnStart struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

// RecognitionStatus is the service-reported outcome of a phrase.
type RecognitionStatus string

const (
	StatusSuccess               RecognitionStatus = "Success"
	StatusNoMatch               RecognitionStatus = "NoMatch"
	StatusInitialSilenceTimeout RecognitionStatus = "InitialSilenceTimeout"
	StatusBabbleTimeout         RecognitionStatus = "BabbleTimeout"
	StatusEndOfDictation        RecognitionStatus = "EndOfDictation"
	StatusError                 RecognitionStatus = "Error"
	StatusBadRequest            RecognitionStatus = "BadRequest"
	StatusForbidden             RecognitionStatus = "Forbidden"
	StatusTooManyRequests       RecognitionStatus = "TooManyRequests"
	StatusServiceUnavailable    RecognitionStatus = "ServiceUnavailable"
	StatusInvalidMessage        RecognitionStatus = "InvalidMessage"
)

// IsError reports whether the status cancels the turn.
func (s RecognitionStatus) IsError() bool {
	switch s {
	case StatusError, StatusBadRequest, StatusForbidden, StatusTooManyRequests,
		StatusServiceUnavailable, StatusInvalidMessage:
		return true
	}
	return false
}

// SpeechHypothesis is the body of speech.hypothesis and speech.fragment.
type SpeechHypothesis struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
	Language string `json:"Language,omitempty"`
}

// SpeechPhrase is the body of speech.phrase.
type SpeechPhrase struct {
	RecognitionStatus RecognitionStatus `json:"RecognitionStatus"`
	DisplayText       string            `json:"DisplayText"`
	Offset            int64             `json:"Offset"`
	Duration          int64             `json:"Duration"`
	NBest             []NBestEntry      `json:"NBest,omitempty"`
	Language          string            `json:"Language,omitempty"`
}

type NBestEntry struct {
	Confidence float64 `json:"Confidence"`
	Lexical    string  `json:"Lexical"`
	ITN        string  `json:"ITN"`
	Display    string  `json:"Display"`
}

// Confidence returns the top NBest confidence, or 0.
func (p *SpeechPhrase) Confidence() float64 {
	if len(p.NBest) == 0 {
		return 0
	}
	return p.NBest[0].Confidence
}

// SpeechDetected is the body of speech.startDetected / speech.endDetected.
type SpeechDetected struct {
	Offset int64 `json:"Offset"`
}

// TranslationHypothesis is the body of translation.hypothesis.
type TranslationHypothesis struct {
	Text        string            `json:"Text"`
	Offset      int64             `json:"Offset"`
	Duration    int64             `json:"Duration"`
	Translation TranslationResult `json:"Translation"`
}

// TranslationPhrase is the body of translation.phrase.
type TranslationPhrase struct {
	RecognitionStatus RecognitionStatus `json:"RecognitionStatus"`
	Text              string            `json:"Text"`
	Offset            int64             `json:"Offset"`
	Duration          int64             `json:"Duration"`
	Translation       TranslationResult `json:"Translation"`
}

type TranslationResult struct {
	TranslationStatus string              `json:"TranslationStatus"`
	Translations      []TranslationTarget `json:"Translations"`
}

type TranslationTarget struct {
	Language string `json:"Language"`
	Text     string `json:"Text"`
}

// AudioMetadata is the body of audio.metadata during synthesis.
type AudioMetadata struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			Text     struct {
				Text   string `json:"Text"`
				Length int    `json:"Length"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// Telemetry is the body of the telemetry message sent after a turn.
type Telemetry struct {
	ReceivedMessages map[string][]string `json:"ReceivedMessages"`
	Metrics          []TelemetryMetric   `json:"Metrics"`
}

type TelemetryMetric struct {
	Name  string `json:"Name"`
	ID    string `json:"Id,omitempty"`
	Start string `json:"Start"`
	End   string `json:"End"`
	Error string `json:"Error,omitempty"`
}

// NewJSONMessage marshals body into a text message.
func NewJSONMessage(path, requestID string, body any) (*Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", path, err)
	}
	return NewTextMessage(path, requestID, ContentTypeJSON, string(raw)), nil
}

// DecodeBody unmarshals a text message's JSON body into v.
func DecodeBody(m *Message, v any) error {
	if m.Type != Text {
		return fmt.Errorf("%s message has no JSON body", m.Type)
	}
	if err := json.Unmarshal([]byte(m.Text), v); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", m.Path(), err)
	}
	return nil
}
