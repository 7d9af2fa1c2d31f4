// Package session drives one logical speech session: it authenticates,
// opens and reopens the connection, runs turns over it and publishes the
// connection lifecycle on an event bus.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/config"
	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/correlation"
	"github.com/lexiqai/speech-sdk/internal/events"
	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/resilience"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
	"github.com/lexiqai/speech-sdk/internal/transport"
)

// SDKVersion is reported to the service in speech.config.
const SDKVersion = "1.0.0"

// Options configures a Session.
type Options struct {
	Factory *connection.Factory
	Auth    *connection.Authenticator
	Props   properties.Bag
	// Zero fields of Defaults fall back to config.DefaultSessionDefaults.
	Defaults config.SessionDefaults
	Mode     Mode
	// Bus is created when nil.
	Bus    *events.Bus
	Logger zerolog.Logger
	// Audio describes the audio format in speech.config. Defaults to
	// 16 kHz 16-bit mono PCM.
	Audio *protocol.AudioInfo
}

// link is one physical connection owned by the session.
type link struct {
	id       string
	t        transport.Transport
	openedAt time.Time
	latency  time.Duration
	readDone chan struct{}

	// closing is set when the session closes the link on purpose.
	closing atomic.Bool
	// framingErr is set when repeated malformed frames forced the close.
	framingErr atomic.Pointer[error]

	mu               sync.Mutex
	configSent       bool
	connTelemetrySet bool
}

// Session is the state machine between callers and one connection at a
// time. All connection open and close goes through it.
type Session struct {
	factory  *connection.Factory
	auth     *connection.Authenticator
	props    properties.Bag
	defaults config.SessionDefaults
	mode     Mode
	bus      *events.Bus
	audio    *protocol.AudioInfo
	logger   zerolog.Logger

	table   *correlation.Table
	breaker *resilience.CircuitBreaker
	state   atomic.Int32

	// lifecycleMu serializes connect, disconnect and reconnect. It is
	// never taken on the dispatch goroutine.
	lifecycleMu sync.Mutex

	mu              sync.Mutex
	link            *link
	turns           map[string]*Turn
	streaming       string
	closed          bool
	reconnectCancel context.CancelFunc
}

// New builds an idle session. Nothing is opened until Connect or the first
// StartTurn.
func New(opts Options) (*Session, error) {
	if opts.Factory == nil {
		return nil, speecherr.InvalidArgument("session requires a connection factory")
	}
	if opts.Auth == nil {
		return nil, speecherr.InvalidArgument("session requires an authenticator")
	}
	if opts.Props == nil {
		opts.Props = properties.NewCollection()
	}
	opts.Defaults = opts.Defaults.WithFallbacks()
	if opts.Audio == nil {
		opts.Audio = &protocol.AudioInfo{Source: protocol.AudioSourceInfo{
			Type:          "Stream",
			SamplesPerSec: 16000,
			BitsPerSample: 16,
			Channels:      1,
		}}
	}

	logger := opts.Logger.With().
		Str("component", "session").
		Str("scenario", opts.Factory.Scenario().Kind().String()).
		Str("mode", opts.Mode.String()).
		Logger()
	if opts.Bus == nil {
		opts.Bus = events.NewBus(logger)
	}

	return &Session{
		factory:  opts.Factory,
		auth:     opts.Auth,
		props:    opts.Props,
		defaults: opts.Defaults,
		mode:     opts.Mode,
		bus:      opts.Bus,
		audio:    opts.Audio,
		logger:   logger,
		table:    correlation.NewTable(logger),
		breaker: resilience.NewCircuitBreaker(
			"speech_"+opts.Factory.Scenario().Kind().String(),
			opts.Defaults.CircuitBreakerMaxFailures,
			opts.Defaults.CircuitBreakerResetTimeout,
		),
		turns: make(map[string]*Turn),
	}, nil
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Bus() *events.Bus { return s.bus }

// Subscribe attaches a connection lifecycle listener. Listeners run on
// session goroutines and must not call Connect or Disconnect directly.
func (s *Session) Subscribe(l events.Listener) (detach func()) {
	return s.bus.Attach(l)
}

// ConnectionID returns the id of the open connection, or "".
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.id
}

// OutstandingTurns returns how many turns have not completed yet.
func (s *Session) OutstandingTurns() int {
	return s.table.Len()
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("Session state changed")
	}
}

// Connect opens the connection if it is not already open.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.ensureConnected(ctx)
	return err
}

func (s *Session) ensureConnected(ctx context.Context) (*link, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	closed, l := s.closed, s.link
	s.mu.Unlock()

	if closed {
		return nil, speecherr.Canceled("session is closed")
	}
	if l != nil && l.t.State() == transport.StateConnected {
		return l, nil
	}
	return s.connectLocked(ctx, s.defaults.ConnectMaxAttempts)
}

// connectLocked dials at most attempts times. It must be called with
// lifecycleMu held.
func (s *Session) connectLocked(ctx context.Context, attempts int) (*link, error) {
	s.setState(StateAuthenticating)
	req, err := s.factory.Prepare(ctx, s.props, s.auth, "")
	if err != nil {
		s.setState(StateCanceled)
		s.logger.Error().Err(err).Msg("Failed to resolve connection")
		observability.RecordError(string(speecherr.CodeOf(err)), "session")
		s.publishFailure("", err)
		return nil, err
	}

	s.setState(StateConnecting)
	logger := observability.WithConnectionID(s.logger, req.ConnectionID)

	var (
		t   transport.Transport
		res *transport.OpenResult
	)
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    s.defaults.ConnectBackoff,
		MaxBackoff:        4 * s.defaults.ConnectBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	err = resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logger.Info().Int("attempt", attempt).Msg("Retrying connection")
		}
		return s.breaker.Call(func() error {
			candidate := s.factory.NewTransport(req)
			r, err := candidate.Open(ctx)
			if err != nil {
				candidate.Close()
				return err
			}
			t, res = candidate, r
			return nil
		})
	}, retryCfg, resilience.IsTransientConnectError)

	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			err = speecherr.ConnectionFailed(err, "connection attempts suspended after repeated failures")
		case speecherr.CodeOf(err) == "":
			err = speecherr.ConnectionFailed(err, "connection %s failed", req.ConnectionID)
		case speecherr.CodeOf(err) == speecherr.CodeAuthenticationFailed:
			s.auth.Invalidate()
		}
		s.setState(StateCanceled)
		logger.Error().Err(err).Msg("Connection failed")
		observability.RecordError(string(speecherr.CodeOf(err)), "session")
		s.publishFailure(req.ConnectionID, err)
		return nil, err
	}

	l := &link{
		id:       req.ConnectionID,
		t:        t,
		openedAt: time.Now(),
		readDone: make(chan struct{}),
	}
	ev := events.NewEvent(events.Connected, l.id)
	if res != nil {
		l.latency = res.Latency
		ev.StatusCode = res.StatusCode
	}

	s.mu.Lock()
	s.link = l
	s.mu.Unlock()

	s.setState(StateConnected)
	logger.Info().Dur("latency", l.latency).Msg("Session connected")
	s.bus.Publish(ev)

	go s.readLoop(l)
	return l, nil
}

func (s *Session) publishFailure(connectionID string, err error) {
	ev := events.NewEvent(events.ConnectionFailed, connectionID)
	ev.Err = err
	ev.Reason = err.Error()
	var hs *transport.HandshakeError
	if errors.As(err, &hs) {
		ev.StatusCode = hs.StatusCode
	}
	s.bus.Publish(ev)
}

// Disconnect cancels outstanding turns and closes the connection. It also
// stops a pending automatic reconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.reconnectCancel != nil {
		s.reconnectCancel()
		s.reconnectCancel = nil
	}
	s.mu.Unlock()

	return s.disconnectLocked(ctx, speecherr.Canceled("session disconnected"))
}

// disconnectLocked must be called with lifecycleMu held.
func (s *Session) disconnectLocked(ctx context.Context, reason error) error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l == nil {
		s.setState(StateIdle)
		return nil
	}

	s.setState(StateDisconnecting)
	l.closing.Store(true)
	if n := s.table.CancelAll(reason); n > 0 {
		s.logger.Info().Int("turns", n).Msg("Canceled outstanding turns on disconnect")
	}
	l.t.Close()

	select {
	case <-l.readDone:
	case <-ctx.Done():
		s.setState(StateIdle)
		return ctx.Err()
	}
	s.setState(StateIdle)
	return nil
}

// Close disconnects and refuses further connects.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Disconnect(context.Background())
}

// Send writes a caller-built message on the open connection.
func (s *Session) Send(ctx context.Context, m *protocol.Message) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return speecherr.NotConnected("")
	}
	return s.send(ctx, l, m)
}

func (s *Session) send(ctx context.Context, l *link, m *protocol.Message) error {
	if err := l.t.Send(ctx, m); err != nil {
		return err
	}
	ev := events.NewEvent(events.MessageSent, l.id)
	ev.Path = m.Path()
	ev.RequestID = m.RequestID()
	s.bus.Publish(ev)
	return nil
}

// ensureConfig sends speech.config once per connection.
func (s *Session) ensureConfig(ctx context.Context, l *link) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.configSent {
		return nil
	}
	m, err := protocol.NewJSONMessage(protocol.PathSpeechConfig, "", protocol.NewSpeechConfig(SDKVersion, s.audio))
	if err != nil {
		return err
	}
	if err := s.send(ctx, l, m); err != nil {
		return err
	}
	l.configSent = true
	return nil
}

// StartTurn connects if needed, registers a turn, sends its context and
// starts streaming its audio (or its synthesis text). The returned Turn
// completes exactly once.
func (s *Session) StartTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}

	l, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = observability.NoDashID()
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaults.AwaitFinalTimeout
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	t := &Turn{
		s:            s,
		link:         l,
		requestID:    requestID,
		logger:       observability.WithConnectionID(s.logger, l.id).With().Str("request_id", requestID).Logger(),
		onEvent:      req.OnEvent,
		onComplete:   req.OnComplete,
		timeout:      timeout,
		streamCtx:    streamCtx,
		streamCancel: streamCancel,
		received:     make(map[string][]string),
	}
	t.result.RequestID = requestID
	t.state.Store(int32(StateTurnStarting))

	s.mu.Lock()
	if err := s.admitLocked(); err != nil {
		s.mu.Unlock()
		streamCancel()
		return nil, err
	}
	handle, err := s.table.Register(requestID, t.onMessage, t.finish)
	if err != nil {
		s.mu.Unlock()
		streamCancel()
		return nil, err
	}
	t.handle = handle
	t.metrics = observability.NewTurnMetrics(requestID)
	s.turns[requestID] = t
	s.streaming = requestID
	s.mu.Unlock()

	s.setState(StateTurnStarting)
	t.logger.Info().Msg("Turn starting")

	if err := s.startTurn(ctx, l, t, req); err != nil {
		t.fail(err)
		return nil, err
	}
	return t, nil
}

// admit rejects a turn while another is still streaming audio, or in
// single-shot mode while another is outstanding at all.
func (s *Session) admit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked()
}

// admitLocked must be called with mu held.
func (s *Session) admitLocked() error {
	if s.streaming != "" {
		return speecherr.TurnInProgress(s.streaming)
	}
	if s.mode == ModeSingleShot {
		for id := range s.turns {
			return speecherr.TurnInProgress(id)
		}
	}
	return nil
}

func (s *Session) startTurn(ctx context.Context, l *link, t *Turn, req TurnRequest) error {
	if err := s.ensureConfig(ctx, l); err != nil {
		return err
	}

	ts := &connection.TurnStart{RequestID: t.requestID}
	s.factory.Scenario().DecorateTurnStart(s.props, ts)
	if ts.Context != nil {
		m, err := protocol.NewJSONMessage(ts.ContextPath, t.requestID, ts.Context)
		if err != nil {
			return err
		}
		if err := s.send(ctx, l, m); err != nil {
			return err
		}
	}

	t.setState(StateStreaming)

	if s.factory.Scenario().Kind() == connection.KindSynthesis {
		contentType := req.ContentType
		if contentType == "" {
			contentType = protocol.ContentTypeSSML
		}
		if err := s.send(ctx, l, protocol.NewTextMessage(protocol.PathSSML, t.requestID, contentType, req.Text)); err != nil {
			return err
		}
		t.awaitFinal()
		return nil
	}

	go t.streamAudio(req.Audio, s.defaults.AudioChunkSize)
	return nil
}

// streamingDone frees the audio slot once a turn has sent its last frame.
func (s *Session) streamingDone(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == t.requestID {
		s.streaming = ""
	}
}

// turnFinished runs on the goroutine that completed the turn, which may
// be the dispatch goroutine, so it must not take lifecycleMu.
func (s *Session) turnFinished(t *Turn, err error) {
	s.mu.Lock()
	delete(s.turns, t.requestID)
	if s.streaming == t.requestID {
		s.streaming = ""
	}
	remaining := len(s.turns)
	current := s.link == t.link
	s.mu.Unlock()

	if err == nil {
		s.setState(StateTurnComplete)
	}
	go s.afterTurn(t, err, remaining == 0 && current)
}

func (s *Session) afterTurn(t *Turn, err error, last bool) {
	if err == nil && !s.defaults.DisableTelemetry {
		s.sendTelemetry(t)
	}
	if !last {
		return
	}
	if s.mode == ModeSingleShot {
		s.releaseIdle(t.link)
		return
	}
	if t.link.t.State() == transport.StateConnected {
		s.setState(StateConnected)
	}
}

// releaseIdle closes l after a single-shot turn unless a new turn has
// started on it meanwhile.
func (s *Session) releaseIdle(l *link) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	busy := s.link != l || len(s.turns) > 0
	s.mu.Unlock()
	if busy {
		return
	}
	s.logger.Debug().Str("connection_id", l.id).Msg("Releasing connection after single-shot turn")
	s.disconnectLocked(context.Background(), speecherr.Canceled("session released"))
}

func (s *Session) sendTelemetry(t *Turn) {
	tel := t.telemetry()

	l := t.link
	l.mu.Lock()
	if !l.connTelemetrySet {
		l.connTelemetrySet = true
		tel.Metrics = append(tel.Metrics, protocol.TelemetryMetric{
			Name:  "Connection",
			ID:    l.id,
			Start: protocol.Timestamp(l.openedAt.Add(-l.latency)),
			End:   protocol.Timestamp(l.openedAt),
		})
	}
	l.mu.Unlock()

	m, err := protocol.NewJSONMessage(protocol.PathTelemetry, t.requestID, tel)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to build telemetry")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.send(ctx, l, m); err != nil {
		t.logger.Debug().Err(err).Msg("Telemetry not sent")
	}
}
