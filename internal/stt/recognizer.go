// Package stt exposes continuous recognition over a session as a
// push-audio, channel-of-results client.
package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/audio"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/session"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// ticksPerSecond converts service offsets, which are in 100 ns units.
const ticksPerSecond = 1e7

var _ STTClient = (*Recognizer)(nil)

// Recognizer streams pushed audio into one recognition turn at a time.
type Recognizer struct {
	sess       *session.Session
	logger     zerolog.Logger
	bufferSize int

	transcript chan *TranscriptionResult

	mu      sync.Mutex
	stream  *audio.PushStream
	turn    *session.Turn
	lastErr error
	closed  bool
}

// RecognizerOption configures a Recognizer.
type RecognizerOption func(*Recognizer)

// WithResultBuffer sets how many results may wait in the channel before
// new ones are dropped.
func WithResultBuffer(n int) RecognizerOption {
	return func(r *Recognizer) { r.transcript = make(chan *TranscriptionResult, n) }
}

// WithAudioBuffer sets the push stream size in bytes.
func WithAudioBuffer(n int) RecognizerOption {
	return func(r *Recognizer) { r.bufferSize = n }
}

// NewRecognizer wraps sess, which should be in continuous mode for a
// speech or translation scenario.
func NewRecognizer(sess *session.Session, logger zerolog.Logger, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		sess:       sess,
		logger:     logger.With().Str("component", "recognizer").Logger(),
		transcript: make(chan *TranscriptionResult, 100),
		bufferSize: audio.DefaultPushStreamSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a recognition turn; audio is taken from SendAudio.
func (r *Recognizer) Start() error {
	return r.StartContext(context.Background())
}

// StartContext is Start bounded by ctx for connecting.
func (r *Recognizer) StartContext(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return speecherr.InvalidArgument("recognizer is closed")
	}
	if r.stream != nil {
		r.mu.Unlock()
		return fmt.Errorf("recognizer is already active")
	}
	stream := audio.NewPushStream(r.bufferSize)
	r.stream = stream
	r.lastErr = nil
	r.mu.Unlock()

	// The turn may complete on another goroutine before StartTurn returns,
	// so mu is not held across it.
	turn, err := r.sess.StartTurn(ctx, session.TurnRequest{
		Audio:      stream,
		OnEvent:    r.onEvent,
		OnComplete: func(err error) { r.onComplete(stream, err) },
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		stream.Abort(err)
		if r.stream == stream {
			r.stream = nil
		}
		return fmt.Errorf("failed to start recognition: %w", err)
	}
	if r.stream == stream {
		r.turn = turn
	}
	r.logger.Info().Str("request_id", turn.RequestID()).Msg("Recognition started")
	return nil
}

// SendAudio queues audio for the running turn. It blocks while the push
// stream is full.
func (r *Recognizer) SendAudio(audioData []byte) error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()

	if stream == nil {
		return speecherr.InvalidArgument("recognizer is not active")
	}
	if _, err := stream.Write(audioData); err != nil {
		return fmt.Errorf("failed to queue audio: %w", err)
	}
	return nil
}

func (r *Recognizer) GetTranscription() <-chan *TranscriptionResult {
	return r.transcript
}

// Stop ends the audio and waits for the turn to complete. It returns the
// turn's error, if any.
func (r *Recognizer) Stop() error {
	return r.StopContext(context.Background())
}

// StopContext is Stop bounded by ctx.
func (r *Recognizer) StopContext(ctx context.Context) error {
	r.mu.Lock()
	stream, turn, lastErr := r.stream, r.turn, r.lastErr
	r.mu.Unlock()

	if stream == nil {
		return lastErr
	}
	if turn == nil {
		// Start has not returned yet or the turn already ended.
		stream.Close()
		return nil
	}
	stream.Close()
	_, err := turn.Wait(ctx)
	return err
}

// Close cancels any running turn and closes the session.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stream, turn := r.stream, r.turn
	close(r.transcript)
	r.mu.Unlock()

	if turn != nil {
		turn.Cancel()
		stream.Abort(speecherr.Canceled("recognizer closed"))
	}
	return r.sess.Close()
}

// IsActive reports whether a turn is running.
func (r *Recognizer) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turn != nil
}

func (r *Recognizer) onComplete(stream *audio.PushStream, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != stream {
		return
	}
	r.stream = nil
	r.turn = nil
	r.lastErr = err
	stream.Abort(speecherr.Canceled("turn ended"))

	if err != nil {
		r.logger.Warn().Err(err).Msg("Recognition ended with error")
		return
	}
	r.logger.Info().Msg("Recognition ended")
}

func (r *Recognizer) onEvent(ev session.TurnEvent) {
	var result *TranscriptionResult
	switch ev.Kind {
	case session.EventHypothesis:
		h := ev.Hypothesis
		result = &TranscriptionResult{
			Text:      h.Text,
			StartTime: seconds(h.Offset),
			Duration:  seconds(h.Duration),
			Language:  h.Language,
		}

	case session.EventPhrase:
		p := ev.Phrase
		if p.RecognitionStatus != protocol.StatusSuccess || p.DisplayText == "" {
			r.logger.Debug().Str("status", string(p.RecognitionStatus)).Msg("Phrase without text")
			return
		}
		result = &TranscriptionResult{
			Text:       p.DisplayText,
			IsFinal:    true,
			Confidence: p.Confidence(),
			StartTime:  seconds(p.Offset),
			Duration:   seconds(p.Duration),
			Language:   p.Language,
		}

	case session.EventTranslationHypothesis:
		h := ev.TranslationHypothesis
		result = &TranscriptionResult{
			Text:         h.Text,
			StartTime:    seconds(h.Offset),
			Duration:     seconds(h.Duration),
			Translations: translations(h.Translation),
		}

	case session.EventTranslationPhrase:
		p := ev.TranslationPhrase
		if p.RecognitionStatus != protocol.StatusSuccess {
			return
		}
		result = &TranscriptionResult{
			Text:         p.Text,
			IsFinal:      true,
			StartTime:    seconds(p.Offset),
			Duration:     seconds(p.Duration),
			Translations: translations(p.Translation),
		}

	default:
		r.logger.Debug().Str("event", ev.Kind.String()).Msg("Ignoring turn event")
		return
	}
	result.RequestID = ev.RequestID
	r.deliver(result)
}

// deliver never blocks the dispatch goroutine.
func (r *Recognizer) deliver(result *TranscriptionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.transcript <- result:
		if result.IsFinal {
			r.logger.Debug().Str("text", result.Text).Float64("confidence", result.Confidence).Msg("Final transcription")
		}
	default:
		r.logger.Warn().Msg("Transcript channel full, dropping transcription")
	}
}

func seconds(ticks int64) float64 {
	return float64(ticks) / ticksPerSecond
}

func translations(tr protocol.TranslationResult) map[string]string {
	if len(tr.Translations) == 0 {
		return nil
	}
	out := make(map[string]string, len(tr.Translations))
	for _, t := range tr.Translations {
		out[t.Language] = t.Text
	}
	return out
}
