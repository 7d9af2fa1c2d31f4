package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/correlation"
	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// EventKind identifies a TurnEvent.
type EventKind int

const (
	EventTurnStarted EventKind = iota
	EventSpeechStartDetected
	EventSpeechEndDetected
	EventHypothesis
	EventPhrase
	EventTranslationHypothesis
	EventTranslationPhrase
	EventSynthesisAudio
	EventAudioMetadata
	EventResponse
	EventTurnEnded
)

func (k EventKind) String() string {
	switch k {
	case EventTurnStarted:
		return "turnStarted"
	case EventSpeechStartDetected:
		return "speechStartDetected"
	case EventSpeechEndDetected:
		return "speechEndDetected"
	case EventHypothesis:
		return "hypothesis"
	case EventPhrase:
		return "phrase"
	case EventTranslationHypothesis:
		return "translationHypothesis"
	case EventTranslationPhrase:
		return "translationPhrase"
	case EventSynthesisAudio:
		return "synthesisAudio"
	case EventAudioMetadata:
		return "audioMetadata"
	case EventResponse:
		return "response"
	case EventTurnEnded:
		return "turnEnded"
	}
	return "unknown"
}

// TurnEvent is one service message surfaced to the caller, in the order
// the service sent it. Only the field matching Kind is set.
type TurnEvent struct {
	Kind      EventKind
	RequestID string
	Path      string

	Hypothesis            *protocol.SpeechHypothesis
	Phrase                *protocol.SpeechPhrase
	TranslationHypothesis *protocol.TranslationHypothesis
	TranslationPhrase     *protocol.TranslationPhrase
	Metadata              *protocol.AudioMetadata
	Audio                 []byte
	// Message is the raw message for kinds without a typed body.
	Message *protocol.Message
}

// TurnRequest describes one turn.
type TurnRequest struct {
	// RequestID is generated when empty.
	RequestID string
	// Audio is read until io.EOF in fixed size chunks. A nil reader sends
	// only the end-of-audio frame.
	Audio io.Reader
	// Text is the SSML or plain text of a synthesis turn.
	Text        string
	ContentType string
	// Timeout bounds AwaitingFinal. Zero uses the session default.
	Timeout time.Duration

	// OnEvent receives interim and final results on the dispatch
	// goroutine. It must not block for long.
	OnEvent func(TurnEvent)
	// OnComplete is called exactly once with the turn's outcome.
	OnComplete func(err error)
}

// TurnResult is everything a turn collected before it ended. Results
// delivered before a failure are kept but never replayed to a new turn.
type TurnResult struct {
	RequestID    string
	ServiceTag   string
	Phrases      []protocol.SpeechPhrase
	Translations []protocol.TranslationPhrase
	Audio        []byte
}

// Turn is one logical request/response exchange on a session's connection.
type Turn struct {
	s         *Session
	link      *link
	requestID string
	handle    *correlation.Handle
	logger    zerolog.Logger
	metrics   *observability.TurnMetrics

	onEvent    func(TurnEvent)
	onComplete func(err error)
	timeout    time.Duration

	state atomic.Int32

	// streamCtx stops audio submission on cancel or completion.
	streamCtx    context.Context
	streamCancel context.CancelFunc
	cancelOnce   sync.Once

	mu       sync.Mutex
	result   TurnResult
	timer    *time.Timer
	received map[string][]string
}

func (t *Turn) RequestID() string { return t.requestID }

func (t *Turn) State() State { return State(t.state.Load()) }

// Done is closed when the turn has completed.
func (t *Turn) Done() <-chan struct{} { return t.handle.Done() }

// Wait blocks until the turn completes and returns what it collected
// together with its outcome.
func (t *Turn) Wait(ctx context.Context) (*TurnResult, error) {
	select {
	case <-t.handle.Done():
		return t.snapshot(), t.handle.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops audio submission at once and completes the turn with
// ErrCanceled. It does not wait for the service and a second call does
// nothing.
func (t *Turn) Cancel() {
	t.cancelOnce.Do(func() {
		t.streamCancel()
		t.logger.Info().Msg("Turn canceled by caller")
		go t.s.table.Complete(t.requestID, speecherr.Canceled("turn %s canceled", t.requestID))
	})
}

func (t *Turn) snapshot() *TurnResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.result
	r.Phrases = append([]protocol.SpeechPhrase(nil), t.result.Phrases...)
	r.Translations = append([]protocol.TranslationPhrase(nil), t.result.Translations...)
	r.Audio = append([]byte(nil), t.result.Audio...)
	return &r
}

func (t *Turn) setState(st State) {
	for {
		cur := State(t.state.Load())
		if cur.Terminal() {
			return
		}
		if t.state.CompareAndSwap(int32(cur), int32(st)) {
			t.s.setState(st)
			return
		}
	}
}

// streamAudio sends the reader's content as audio frames, then the empty
// end-of-audio frame, then starts the final-result timer.
func (t *Turn) streamAudio(r io.Reader, chunkSize int) {
	if r != nil {
		buf := make([]byte, chunkSize)
		for {
			if t.streamCtx.Err() != nil {
				return
			}
			n, err := io.ReadFull(r, buf)
			if t.streamCtx.Err() != nil {
				return
			}
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if sendErr := t.s.send(t.streamCtx, t.link, protocol.NewAudioMessage(t.requestID, chunk)); sendErr != nil {
					t.fail(sendErr)
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				t.fail(speecherr.InvalidArgument("audio source failed: %v", err))
				return
			}
		}
	}

	if t.streamCtx.Err() != nil {
		return
	}
	if err := t.s.send(t.streamCtx, t.link, protocol.NewAudioMessage(t.requestID, nil)); err != nil {
		t.fail(err)
		return
	}
	t.awaitFinal()
}

// awaitFinal marks the end of submission and bounds the wait for turn.end.
func (t *Turn) awaitFinal() {
	t.s.streamingDone(t)
	t.setState(StateAwaitingFinal)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle.Completed() || t.timeout <= 0 {
		return
	}
	t.timer = time.AfterFunc(t.timeout, func() {
		if t.s.table.Complete(t.requestID, speecherr.Timeout("turn %s got no final result within %s", t.requestID, t.timeout)) {
			t.logger.Warn().Dur("timeout", t.timeout).Msg("Turn timed out awaiting final result")
		}
	})
}

// fail completes the turn with err unless the caller already canceled it.
func (t *Turn) fail(err error) {
	if t.streamCtx.Err() != nil {
		return
	}
	t.s.table.Complete(t.requestID, err)
}

func (t *Turn) emit(ev TurnEvent) {
	if t.onEvent == nil {
		return
	}
	ev.RequestID = t.requestID
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("kind", ev.Kind.String()).Msg("Turn event callback panicked")
		}
	}()
	t.onEvent(ev)
}

// onMessage runs on the dispatch goroutine for every message routed to this
// turn.
func (t *Turn) onMessage(m *protocol.Message) (bool, error) {
	path := m.Path()

	t.mu.Lock()
	t.received[path] = append(t.received[path], protocol.Timestamp(time.Now()))
	t.mu.Unlock()

	if sid := m.StreamID(); sid != "" && m.RequestID() == t.requestID {
		t.s.table.BindStream(t.requestID, sid)
	}

	switch path {
	case protocol.PathTurnStart:
		var body protocol.TurnStart
		if err := protocol.DecodeBody(m, &body); err == nil {
			t.mu.Lock()
			t.result.ServiceTag = body.Context.ServiceTag
			t.mu.Unlock()
		}
		t.emit(TurnEvent{Kind: EventTurnStarted, Path: path, Message: m})

	case protocol.PathSpeechStartDetected:
		t.emit(TurnEvent{Kind: EventSpeechStartDetected, Path: path, Message: m})

	case protocol.PathSpeechEndDetected:
		t.emit(TurnEvent{Kind: EventSpeechEndDetected, Path: path, Message: m})

	case protocol.PathSpeechHypothesis, protocol.PathSpeechFragment:
		var hyp protocol.SpeechHypothesis
		if err := protocol.DecodeBody(m, &hyp); err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable hypothesis")
			return false, nil
		}
		t.metrics.RecordFirstResult()
		t.emit(TurnEvent{Kind: EventHypothesis, Path: path, Hypothesis: &hyp})

	case protocol.PathSpeechPhrase:
		var phrase protocol.SpeechPhrase
		if err := protocol.DecodeBody(m, &phrase); err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable phrase")
			return false, nil
		}
		if phrase.RecognitionStatus.IsError() {
			return true, serviceError(t.requestID, phrase.RecognitionStatus)
		}
		t.metrics.RecordFirstResult()
		t.mu.Lock()
		t.result.Phrases = append(t.result.Phrases, phrase)
		t.mu.Unlock()
		t.emit(TurnEvent{Kind: EventPhrase, Path: path, Phrase: &phrase})

	case protocol.PathTranslationHypothesis:
		var hyp protocol.TranslationHypothesis
		if err := protocol.DecodeBody(m, &hyp); err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable translation hypothesis")
			return false, nil
		}
		t.metrics.RecordFirstResult()
		t.emit(TurnEvent{Kind: EventTranslationHypothesis, Path: path, TranslationHypothesis: &hyp})

	case protocol.PathTranslationPhrase:
		var phrase protocol.TranslationPhrase
		if err := protocol.DecodeBody(m, &phrase); err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable translation phrase")
			return false, nil
		}
		if phrase.RecognitionStatus.IsError() {
			return true, serviceError(t.requestID, phrase.RecognitionStatus)
		}
		t.metrics.RecordFirstResult()
		t.mu.Lock()
		t.result.Translations = append(t.result.Translations, phrase)
		t.mu.Unlock()
		t.emit(TurnEvent{Kind: EventTranslationPhrase, Path: path, TranslationPhrase: &phrase})

	case protocol.PathAudio, protocol.PathTranslationSynthesis:
		if m.Type != protocol.Binary {
			return false, nil
		}
		t.metrics.RecordFirstResult()
		t.mu.Lock()
		t.result.Audio = append(t.result.Audio, m.Binary...)
		t.mu.Unlock()
		t.emit(TurnEvent{Kind: EventSynthesisAudio, Path: path, Audio: m.Binary})

	case protocol.PathAudioMetadata:
		var md protocol.AudioMetadata
		if err := protocol.DecodeBody(m, &md); err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable audio metadata")
			return false, nil
		}
		t.emit(TurnEvent{Kind: EventAudioMetadata, Path: path, Metadata: &md})

	case protocol.PathTurnEnd:
		t.stopTimer()
		t.emit(TurnEvent{Kind: EventTurnEnded, Path: path, Message: m})
		return true, nil

	default:
		t.emit(TurnEvent{Kind: EventResponse, Path: path, Message: m})
	}
	return false, nil
}

func (t *Turn) stopTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// finish is the correlation completion callback. It runs exactly once.
func (t *Turn) finish(err error) {
	t.stopTimer()
	t.streamCancel()

	outcome := "success"
	if err == nil {
		t.state.Store(int32(StateTurnComplete))
		t.logger.Info().Msg("Turn complete")
	} else {
		t.state.Store(int32(StateCanceled))
		outcome = string(speecherr.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
		t.logger.Info().Err(err).Msg("Turn canceled")
	}
	t.metrics.RecordTurnEnd(outcome)

	if t.onComplete != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error().Interface("panic", r).Msg("Turn completion callback panicked")
				}
			}()
			t.onComplete(err)
		}()
	}
	t.s.turnFinished(t, err)
}

// telemetry describes what this turn received, for the service's
// diagnostics.
func (t *Turn) telemetry() *protocol.Telemetry {
	t.mu.Lock()
	defer t.mu.Unlock()
	tel := &protocol.Telemetry{ReceivedMessages: make(map[string][]string, len(t.received))}
	for path, stamps := range t.received {
		tel.ReceivedMessages[path] = append([]string(nil), stamps...)
	}
	return tel
}

func serviceError(requestID string, status protocol.RecognitionStatus) error {
	cat := speecherr.ServiceError
	switch status {
	case protocol.StatusBadRequest, protocol.StatusInvalidMessage:
		cat = speecherr.BadRequest
	case protocol.StatusForbidden:
		cat = speecherr.Forbidden
	case protocol.StatusTooManyRequests:
		cat = speecherr.TooManyRequests
	case protocol.StatusServiceUnavailable:
		cat = speecherr.ServiceUnavailable
	}
	return speecherr.Service(cat, "turn %s failed with status %s", requestID, status)
}
