package tts

import "github.com/lexiqai/speech-sdk/internal/audio"

// AudioChunk is one piece of synthesized audio, in order.
type AudioChunk struct {
	Data   []byte       // Raw samples, already converted to the requested format
	Format audio.Format // Encoding, sample rate and channels of Data
	// Offset is where the chunk starts in the whole synthesis, in bytes
	Offset int
}

// TTSClient defines the interface for a Text-to-Speech client
type TTSClient interface {
	// Synthesize converts text to audio and streams it
	Synthesize(text string) (<-chan *AudioChunk, error)

	// Stop stops any ongoing synthesis
	Stop() error

	// Close closes the client and cleans up resources
	Close() error

	// IsActive returns whether the client is currently synthesizing
	IsActive() bool
}
