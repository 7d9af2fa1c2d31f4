package session

import "fmt"

// State is where a session or a turn is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateConnecting
	StateConnected
	StateTurnStarting
	StateStreaming
	StateAwaitingFinal
	StateTurnComplete
	StateDisconnecting
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAuthenticating:
		return "Authenticating"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateTurnStarting:
		return "TurnStarting"
	case StateStreaming:
		return "Streaming"
	case StateAwaitingFinal:
		return "AwaitingFinal"
	case StateTurnComplete:
		return "TurnComplete"
	case StateDisconnecting:
		return "Disconnecting"
	case StateCanceled:
		return "Canceled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether a turn in this state will not change again.
func (s State) Terminal() bool {
	return s == StateTurnComplete || s == StateCanceled
}

// Mode decides what happens to the connection between turns.
type Mode int

const (
	// ModeSingleShot allows one turn at a time and releases the connection
	// once it completes.
	ModeSingleShot Mode = iota
	// ModeContinuous keeps the connection for many turns and reconnects
	// once after an unexpected drop.
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeSingleShot:
		return "single-shot"
	case ModeContinuous:
		return "continuous"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}
