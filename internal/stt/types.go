package stt

// TranscriptionResult is one interim or final recognition result.
type TranscriptionResult struct {
	// Text is the recognized text
	Text string

	// IsFinal indicates if this is a final phrase (true) or a hypothesis (false)
	IsFinal bool

	// Confidence is the top NBest confidence (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the offset of the utterance in the audio, in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64

	// Language is set when the service identified the spoken language
	Language string

	// Translations maps target language to text in translation sessions
	Translations map[string]string

	// RequestID is the turn the result belongs to
	RequestID string
}

// STTClient is the interface for speech-to-text clients
type STTClient interface {
	// Start begins a new recognition turn
	Start() error

	// SendAudio queues an audio chunk for the current turn
	SendAudio(audioData []byte) error

	// GetTranscription returns the channel results are delivered on
	GetTranscription() <-chan *TranscriptionResult

	// Stop ends the audio and waits for the final result of the turn
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}
