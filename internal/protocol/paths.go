package protocol

// Message paths produced or consumed by the session layer.
const (
	PathSpeechConfig            = "speech.config"
	PathSpeechContext           = "speech.context"
	PathAudio                   = "audio"
	PathTurnStart               = "turn.start"
	PathTurnEnd                 = "turn.end"
	PathSpeechStartDetected     = "speech.startDetected"
	PathSpeechEndDetected       = "speech.endDetected"
	PathSpeechHypothesis        = "speech.hypothesis"
	PathSpeechFragment          = "speech.fragment"
	PathSpeechPhrase            = "speech.phrase"
	PathSpeechKeyword           = "speech.keyword"
	PathTranslationHypothesis   = "translation.hypothesis"
	PathTranslationPhrase       = "translation.phrase"
	PathTranslationSynthesis    = "translation.synthesis"
	PathTranslationSynthesisEnd = "translation.synthesis.end"
	PathSynthesisContext        = "synthesis.context"
	PathSSML                    = "ssml"
	PathAudioMetadata           = "audio.metadata"
	PathTelemetry               = "telemetry"
	PathResponse                = "response"
)

var turnScoped = map[string]bool{
	PathTurnStart:               true,
	PathTurnEnd:                 true,
	PathSpeechStartDetected:     true,
	PathSpeechEndDetected:       true,
	PathSpeechHypothesis:        true,
	PathSpeechFragment:          true,
	PathSpeechPhrase:            true,
	PathSpeechKeyword:           true,
	PathTranslationHypothesis:   true,
	PathTranslationPhrase:       true,
	PathTranslationSynthesis:    true,
	PathTranslationSynthesisEnd: true,
	PathAudio:                   true,
	PathAudioMetadata:           true,
	PathResponse:                true,
}

// IsTurnScoped reports whether inbound messages with this path belong to a
// single logical turn and must be routed by their correlation headers.
func IsTurnScoped(path string) bool {
	return turnScoped[path]
}
