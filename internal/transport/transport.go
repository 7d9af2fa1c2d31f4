// Package transport carries framed protocol messages over a bidirectional
// socket.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiqai/speech-sdk/internal/protocol"
)

// State is the lifecycle of a single physical connection.
type State int32

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// OpenResult describes a successful handshake.
type OpenResult struct {
	StatusCode int
	Header     http.Header
	Latency    time.Duration
}

// Inbound is one received frame: either a decoded Message or the framing
// error that prevented decoding it.
type Inbound struct {
	Message *protocol.Message
	Err     error
}

// CloseInfo explains why a connection ended. Err is nil for a close the
// client asked for.
type CloseInfo struct {
	Code   int
	Reason string
	Err    error
}

// Transport is one physical connection. Open may be called once; Messages
// is closed when the connection ends for any reason.
type Transport interface {
	ID() string
	State() State
	Open(ctx context.Context) (*OpenResult, error)
	// Send writes m and returns once the frame is on the wire. Frames from
	// one goroutine go out in call order.
	Send(ctx context.Context, m *protocol.Message) error
	Messages() <-chan Inbound
	CloseInfo() CloseInfo
	Close() error
}

// HandshakeError is a rejected connection upgrade.
type HandshakeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("websocket handshake failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("websocket handshake failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("websocket handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
