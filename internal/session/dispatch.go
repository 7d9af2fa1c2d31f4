package session

import (
	"context"
	"time"

	"github.com/lexiqai/speech-sdk/internal/events"
	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/resilience"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
	"github.com/lexiqai/speech-sdk/internal/transport"
)

// readLoop is the single dispatch goroutine of a link. Messages are handed
// to their turns in arrival order.
func (s *Session) readLoop(l *link) {
	defer close(l.readDone)
	logger := observability.WithConnectionID(s.logger, l.id)

	consecutive := 0
	for in := range l.t.Messages() {
		if in.Err != nil {
			consecutive++
			logger.Warn().Err(in.Err).Int("consecutive", consecutive).Msg("Dropped malformed frame")
			if limit := s.defaults.MaxFramingErrors; limit > 0 && consecutive >= limit && l.framingErr.Load() == nil {
				err := speecherr.ConnectionLost(in.Err, "connection %s dropped after %d malformed frames", l.id, consecutive)
				var e error = err
				l.framingErr.Store(&e)
				l.t.Close()
			}
			continue
		}
		consecutive = 0

		m := in.Message
		ev := events.NewEvent(events.MessageReceived, l.id)
		ev.Path = m.Path()
		ev.RequestID = m.RequestID()
		s.bus.Publish(ev)

		if !protocol.IsTurnScoped(m.Path()) {
			logger.Debug().Str("path", m.Path()).Msg("Ignoring connection-scoped message")
			continue
		}
		s.table.Dispatch(m)
	}

	s.linkClosed(l)
}

// linkClosed runs once the transport has ended. An unexpected end cancels
// every outstanding turn with ErrConnectionLost and, in continuous mode,
// schedules one reconnect. The turns themselves are not resumed.
func (s *Session) linkClosed(l *link) {
	info := l.t.CloseInfo()

	s.mu.Lock()
	current := s.link == l
	if current {
		s.link = nil
	}
	closed := s.closed
	s.mu.Unlock()

	lost := current && !l.closing.Load()
	if lost {
		err := s.lossError(l, info)
		s.setState(StateCanceled)
		n := s.table.CancelAll(err)
		s.logger.Warn().
			Err(err).
			Str("connection_id", l.id).
			Int("canceled_turns", n).
			Msg("Connection lost")
		observability.RecordError(string(speecherr.CodeConnectionLost), "session")
	}

	ev := events.NewEvent(events.Disconnected, l.id)
	ev.StatusCode = info.Code
	ev.Reason = info.Reason
	ev.Err = info.Err
	s.bus.Publish(ev)

	if !lost {
		return
	}
	if s.mode == ModeContinuous && !closed {
		s.scheduleReconnect()
		return
	}
	s.setState(StateIdle)
}

func (s *Session) lossError(l *link, info transport.CloseInfo) error {
	if p := l.framingErr.Load(); p != nil {
		return *p
	}
	if speecherr.CodeOf(info.Err) == speecherr.CodeConnectionLost {
		return info.Err
	}
	return speecherr.ConnectionLost(info.Err, "connection %s closed unexpectedly (code %d)", l.id, info.Code)
}

// scheduleReconnect starts the single automatic reconnect of continuous
// mode in the background. Disconnect and Close abort it.
func (s *Session) scheduleReconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.reconnectCancel != nil {
		s.reconnectCancel()
	}
	s.reconnectCancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		observability.RecordReconnect()

		cfg := &resilience.ReconnectConfig{
			MaxAttempts: 1,
			Backoff:     s.defaults.ReconnectBackoff,
			Multiplier:  2.0,
			MaxBackoff:  10 * time.Second,
		}
		err := resilience.Reconnect(ctx, func(ctx context.Context) error {
			s.lifecycleMu.Lock()
			defer s.lifecycleMu.Unlock()

			s.mu.Lock()
			closed, l := s.closed, s.link
			s.mu.Unlock()
			if closed {
				return speecherr.Canceled("session is closed")
			}
			if l != nil {
				return nil
			}
			_, err := s.connectLocked(ctx, 1)
			return err
		}, cfg, s.logger)

		if err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Automatic reconnect failed, next turn will connect")
			s.setState(StateIdle)
		}
	}()
}
