// Package tts runs synthesis turns over a session and streams the audio
// back as chunks.
package tts

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

var _ TTSClient = (*Synthesizer)(nil)

// Config selects the voice and the audio the caller wants back.
type Config struct {
	Voice    string
	Language string
	// ServiceFormat must match the SynthesisOutputFormat property of the
	// session. Defaults to riff-24khz-16bit-mono-pcm.
	ServiceFormat string
	// Output converts the audio when set, for example to
	// audio.TelephonyFormat.
	Output *audio.Format
	// ChunkBuffer is how many chunks may wait before new ones are dropped.
	ChunkBuffer int
}

// Synthesizer runs one synthesis turn at a time.
type Synthesizer struct {
	sess    *session.Session
	cfg     Config
	service OutputFormat
	output  audio.Format
	logger  zerolog.Logger

	mu      sync.Mutex
	turn    *session.Turn
	lastErr error
}

// NewSynthesizer wraps sess, which must use the synthesis scenario.
func NewSynthesizer(sess *session.Session, cfg Config, logger zerolog.Logger) (*Synthesizer, error) {
	if cfg.ServiceFormat == "" {
		cfg.ServiceFormat = "riff-24khz-16bit-mono-pcm"
	}
	if cfg.ChunkBuffer <= 0 {
		cfg.ChunkBuffer = 256
	}
	service, err := ParseOutputFormat(cfg.ServiceFormat)
	if err != nil {
		return nil, speecherr.InvalidArgument("%v", err)
	}
	output := service.Format
	if cfg.Output != nil {
		if err := cfg.Output.Validate(); err != nil {
			return nil, speecherr.InvalidArgument("invalid output format: %v", err)
		}
		output = *cfg.Output
	}

	return &Synthesizer{
		sess:    sess,
		cfg:     cfg,
		service: service,
		output:  output,
		logger:  logger.With().Str("component", "synthesizer").Str("voice", cfg.Voice).Logger(),
	}, nil
}

// Synthesize starts a synthesis turn. The channel is closed when the turn
// ends; Wait reports how it ended.
func (s *Synthesizer) Synthesize(text string) (<-chan *AudioChunk, error) {
	return s.SynthesizeContext(context.Background(), text)
}

// SynthesizeContext is Synthesize bounded by ctx for connecting.
func (s *Synthesizer) SynthesizeContext(ctx context.Context, text string) (<-chan *AudioChunk, error) {
	if text == "" {
		return nil, speecherr.InvalidArgument("nothing to synthesize")
	}

	s.mu.Lock()
	if s.turn != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("synthesizer is already synthesizing")
	}
	s.mu.Unlock()

	st := &synthesisTurn{
		s:      s,
		chunks: make(chan *AudioChunk, s.cfg.ChunkBuffer),
		header: s.service.RIFF,
	}
	turn, err := s.sess.StartTurn(ctx, session.TurnRequest{
		Text:        BuildSSML(text, s.cfg.Language, s.cfg.Voice),
		ContentType: protocol.ContentTypeSSML,
		OnEvent:     st.onEvent,
		OnComplete:  st.onComplete,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start synthesis: %w", err)
	}

	s.mu.Lock()
	s.turn = turn
	s.lastErr = nil
	s.mu.Unlock()
	st.started(turn)

	s.logger.Info().Str("request_id", turn.RequestID()).Int("chars", len(text)).Msg("Synthesis started")
	return st.chunks, nil
}

// Wait blocks until the current synthesis ends and returns its error.
func (s *Synthesizer) Wait(ctx context.Context) error {
	s.mu.Lock()
	turn, lastErr := s.turn, s.lastErr
	s.mu.Unlock()
	if turn == nil {
		return lastErr
	}
	_, err := turn.Wait(ctx)
	return err
}

// Stop cancels the running synthesis without waiting for the service.
func (s *Synthesizer) Stop() error {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn != nil {
		turn.Cancel()
		s.logger.Info().Msg("Synthesis stopped")
	}
	return nil
}

func (s *Synthesizer) Close() error {
	s.Stop()
	return s.sess.Close()
}

func (s *Synthesizer) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn != nil
}

func (s *Synthesizer) finished(turn *session.Turn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == turn {
		s.turn = nil
	}
	s.lastErr = err
}

// synthesisTurn converts and forwards the audio of one turn.
type synthesisTurn struct {
	s      *Synthesizer
	chunks chan *AudioChunk

	mu      sync.Mutex
	turn    *session.Turn
	header  bool
	skipped int
	carry   []byte
	offset  int
	done    bool
	// ended holds the outcome when the turn ends before started runs.
	ended *error
}

func (st *synthesisTurn) started(turn *session.Turn) {
	st.mu.Lock()
	st.turn = turn
	ended := st.ended
	st.mu.Unlock()
	if ended != nil {
		st.s.finished(turn, *ended)
	}
}

func (st *synthesisTurn) onEvent(ev session.TurnEvent) {
	switch ev.Kind {
	case session.EventSynthesisAudio:
		st.push(ev.Audio)
	case session.EventAudioMetadata:
		for _, md := range ev.Metadata.Metadata {
			st.s.logger.Debug().Str("type", md.Type).Str("text", md.Data.Text.Text).Int64("offset", md.Data.Offset).Msg("Synthesis metadata")
		}
	}
}

func (st *synthesisTurn) push(data []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return
	}

	if st.header && st.skipped < riffHeaderSize {
		n := min(riffHeaderSize-st.skipped, len(data))
		st.skipped += n
		data = data[n:]
	}
	if len(st.carry) > 0 {
		data = append(st.carry, data...)
		st.carry = nil
	}
	if rem := len(data) % st.s.service.Format.BytesPerSample(); rem != 0 {
		st.carry = append([]byte(nil), data[len(data)-rem:]...)
		data = data[:len(data)-rem]
	}
	if len(data) == 0 {
		return
	}

	out, err := audio.Convert(data, st.s.service.Format, st.s.output)
	if err != nil {
		st.s.logger.Warn().Err(err).Msg("Dropping unconvertible synthesis audio")
		return
	}
	chunk := &AudioChunk{Data: out, Format: st.s.output, Offset: st.offset}
	st.offset += len(out)

	select {
	case st.chunks <- chunk:
	default:
		st.s.logger.Warn().Int("bytes", len(out)).Msg("Audio channel full, dropping audio chunk")
	}
}

func (st *synthesisTurn) onComplete(err error) {
	st.mu.Lock()
	st.done = true
	close(st.chunks)
	turn, total := st.turn, st.offset
	if turn == nil {
		st.ended = &err
	}
	st.mu.Unlock()

	if turn != nil {
		st.s.finished(turn, err)
	}
	if err != nil {
		st.s.logger.Warn().Err(err).Msg("Synthesis ended with error")
		return
	}
	st.s.logger.Info().Int("bytes", total).Msg("Synthesis complete")
}
