package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

const (
	maxHandshakeBody = 4096
	writeTimeout     = 10 * time.Second
	closeGrace       = time.Second
	inboundBuffer    = 64
)

// WebSocketOptions configures a WebSocket transport.
type WebSocketOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
	// Dialer overrides the default dialer, e.g. for custom TLS in tests.
	Dialer *websocket.Dialer
}

type sendRequest struct {
	msgType int
	data    []byte
	result  chan error
}

// WebSocket is a Transport over gorilla/websocket. Reads happen on a single
// goroutine so inbound order matches the wire. Writes go through one writer
// goroutine fed by an ordered queue.
type WebSocket struct {
	id     string
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger zerolog.Logger

	state atomic.Int32
	conn  *websocket.Conn

	sendCh  chan sendRequest
	inbound chan Inbound
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closeInfo CloseInfo
	started   bool
}

// NewWebSocket returns an unopened transport for url.
func NewWebSocket(id, url string, opts WebSocketOptions) *WebSocket {
	dialer := opts.Dialer
	if dialer == nil {
		timeout := opts.HandshakeTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &WebSocket{
		id:      id,
		url:     url,
		header:  header,
		dialer:  dialer,
		logger:  observability.WithConnectionID(opts.Logger, id),
		sendCh:  make(chan sendRequest),
		inbound: make(chan Inbound, inboundBuffer),
		done:    make(chan struct{}),
	}
}

func (w *WebSocket) ID() string { return w.id }

func (w *WebSocket) URL() string { return w.url }

func (w *WebSocket) State() State { return State(w.state.Load()) }

func (w *WebSocket) Messages() <-chan Inbound { return w.inbound }

func (w *WebSocket) CloseInfo() CloseInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeInfo
}

// Open performs the WebSocket handshake. A 401 or 403 response is an
// authentication failure; any other failure is a connection failure.
func (w *WebSocket) Open(ctx context.Context) (*OpenResult, error) {
	if !w.state.CompareAndSwap(int32(StateNone), int32(StateConnecting)) {
		return nil, speecherr.ConnectionFailed(nil, "connection %s already opened", w.id)
	}

	start := time.Now()
	w.logger.Debug().Str("url", redactURL(w.url)).Msg("Opening websocket")

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		w.state.Store(int32(StateDisconnected))
		observability.RecordConnect(false, 0)
		w.terminate(CloseInfo{Err: err})
		return nil, w.handshakeError(ctx, resp, err)
	}

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		conn.Close()
		return nil, speecherr.Canceled("connection %s closed during open", w.id)
	default:
	}
	w.conn = conn
	w.started = true
	w.state.Store(int32(StateConnected))
	w.mu.Unlock()

	latency := time.Since(start)
	observability.RecordConnect(true, latency)

	go w.writeLoop()
	go w.readLoop()

	w.logger.Info().Dur("latency", latency).Msg("Websocket connected")
	return &OpenResult{StatusCode: resp.StatusCode, Header: resp.Header, Latency: latency}, nil
}

func (w *WebSocket) handshakeError(ctx context.Context, resp *http.Response, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && resp == nil {
		if errors.Is(ctxErr, context.Canceled) {
			return speecherr.Canceled("connect canceled: %v", ctxErr)
		}
		return speecherr.Timeout("connect timed out: %v", ctxErr)
	}

	hsErr := &HandshakeError{Err: err}
	if resp != nil {
		hsErr.StatusCode = resp.StatusCode
		if resp.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
			resp.Body.Close()
			hsErr.Body = strings.TrimSpace(string(body))
		}
	}

	switch hsErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return speecherr.Authentication(hsErr, "connection %s rejected", w.id)
	case http.StatusTooManyRequests:
		e := speecherr.ConnectionFailed(hsErr, "connection %s throttled", w.id)
		e.Category = speecherr.TooManyRequests
		return e
	case http.StatusBadRequest:
		e := speecherr.ConnectionFailed(hsErr, "connection %s rejected", w.id)
		e.Category = speecherr.BadRequest
		return e
	}
	if errors.Is(err, websocket.ErrBadHandshake) || hsErr.StatusCode != 0 {
		return speecherr.ConnectionFailed(hsErr, "connection %s failed", w.id)
	}
	return speecherr.ConnectionFailed(err, "connection %s failed", w.id)
}

// Send encodes m and waits for the writer goroutine to put it on the wire.
func (w *WebSocket) Send(ctx context.Context, m *protocol.Message) error {
	if w.State() != StateConnected {
		return speecherr.NotConnected(w.id)
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if m.Type == protocol.Binary {
		msgType = websocket.BinaryMessage
	}

	req := sendRequest{msgType: msgType, data: data, result: make(chan error, 1)}
	select {
	case w.sendCh <- req:
	case <-w.done:
		return speecherr.NotConnected(w.id)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		if err != nil {
			return speecherr.ConnectionLost(err, "send on connection %s failed", w.id)
		}
	case <-w.done:
		// The writer may have finished this frame just before shutting down.
		select {
		case err := <-req.result:
			if err == nil {
				break
			}
			return speecherr.ConnectionLost(err, "send on connection %s failed", w.id)
		default:
			return speecherr.ConnectionLost(nil, "connection %s closed during send", w.id)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	path := m.Path()
	observability.RecordMessage("out", path)
	if m.Type == protocol.Binary {
		observability.RecordAudioBytes("out", len(m.Binary))
	}
	return nil
}

func (w *WebSocket) writeLoop() {
	for {
		select {
		case req := <-w.sendCh:
			w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := w.conn.WriteMessage(req.msgType, req.data)
			req.result <- err
			if err != nil {
				w.logger.Warn().Err(err).Msg("Websocket write failed")
				w.terminate(CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: "write failed", Err: err})
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) readLoop() {
	defer close(w.inbound)

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			info := CloseInfo{Code: websocket.CloseAbnormalClosure, Err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				info.Code = ce.Code
				info.Reason = ce.Text
				if ce.Code == websocket.CloseNormalClosure {
					info.Err = speecherr.ConnectionLost(err, "service closed connection %s", w.id)
				}
			}
			w.terminate(info)
			return
		}

		var in Inbound
		switch msgType {
		case websocket.TextMessage:
			in.Message, in.Err = protocol.Decode(protocol.Text, data)
		case websocket.BinaryMessage:
			in.Message, in.Err = protocol.Decode(protocol.Binary, data)
		default:
			continue
		}

		if in.Err != nil {
			observability.RecordFramingError()
			w.logger.Debug().Err(in.Err).Int("size", len(data)).Msg("Malformed frame")
		} else {
			observability.RecordMessage("in", in.Message.Path())
			if in.Message.Type == protocol.Binary {
				observability.RecordAudioBytes("in", len(in.Message.Binary))
			}
		}

		select {
		case w.inbound <- in:
		case <-w.done:
			return
		}
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (w *WebSocket) Close() error {
	w.terminate(CloseInfo{Code: websocket.CloseNormalClosure, Reason: "closed by client"})
	return nil
}

// terminate records why the connection ended and releases it. Only the
// first call has any effect.
func (w *WebSocket) terminate(info CloseInfo) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		wasConnected := State(w.state.Swap(int32(StateDisconnected))) == StateConnected
		w.closeInfo = info
		conn := w.conn
		started := w.started
		close(w.done)
		w.mu.Unlock()

		if conn != nil {
			if info.Err == nil {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			}
			conn.Close()
		}
		if !started {
			close(w.inbound)
		}
		if wasConnected {
			observability.RecordDisconnect()
			w.logger.Info().Int("code", info.Code).Str("reason", info.Reason).AnErr("error", info.Err).Msg("Websocket closed")
		}
	})
}

// redactURL drops the query string, which may carry tokens.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
