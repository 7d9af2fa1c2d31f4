// Package speecherr defines the error taxonomy surfaced to callers of the
// speech SDK. Every user-visible failure carries a coarse Category (the
// service's cancellation error code) and a fine-grained Code.
package speecherr

import (
	"errors"
	"fmt"
)

// Category mirrors the service's cancellation error codes.
type Category int

const (
	NoError Category = iota
	AuthenticationFailure
	BadRequest
	TooManyRequests
	Forbidden
	ConnectionFailure
	ServiceTimeout
	ServiceError
	ServiceUnavailable
	RuntimeError
)

var categoryNames = map[Category]string{
	NoError:               "NoError",
	AuthenticationFailure: "AuthenticationFailure",
	BadRequest:            "BadRequest",
	TooManyRequests:       "TooManyRequests",
	Forbidden:             "Forbidden",
	ConnectionFailure:     "ConnectionFailure",
	ServiceTimeout:        "ServiceTimeout",
	ServiceError:          "ServiceError",
	ServiceUnavailable:    "ServiceUnavailable",
	RuntimeError:          "RuntimeError",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Reason tells why a turn ended without a normal result.
type Reason int

const (
	ReasonError Reason = iota
	ReasonEndOfStream
	ReasonCanceledByUser
)

func (r Reason) String() string {
	switch r {
	case ReasonError:
		return "Error"
	case ReasonEndOfStream:
		return "EndOfStream"
	case ReasonCanceledByUser:
		return "CanceledByUser"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Code is the fine-grained, machine-checkable error identifier.
type Code string

const (
	CodeProtocolFraming      Code = "protocol_framing"
	CodeNotConnected         Code = "not_connected"
	CodeAuthenticationFailed Code = "authentication_failed"
	CodeConnectionFailed     Code = "connection_failed"
	CodeConnectionLost       Code = "connection_lost"
	CodeTimeout              Code = "timeout"
	CodeServiceError         Code = "service_error"
	CodeCanceled             Code = "canceled"
	CodeTurnInProgress       Code = "turn_in_progress"
	CodeInvalidArgument      Code = "invalid_argument"
)

// Error is the concrete error type returned by the SDK.
type Error struct {
	Code     Code
	Category Category
	Reason   Reason
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", msg, e.Category, e.Err)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Category)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrProtocolFraming      = &Error{Code: CodeProtocolFraming, Category: RuntimeError}
	ErrNotConnected         = &Error{Code: CodeNotConnected, Category: ConnectionFailure}
	ErrAuthenticationFailed = &Error{Code: CodeAuthenticationFailed, Category: AuthenticationFailure}
	ErrConnectionFailed     = &Error{Code: CodeConnectionFailed, Category: ConnectionFailure}
	ErrConnectionLost       = &Error{Code: CodeConnectionLost, Category: ConnectionFailure}
	ErrTimeout              = &Error{Code: CodeTimeout, Category: ServiceTimeout}
	ErrServiceError         = &Error{Code: CodeServiceError, Category: ServiceError}
	ErrCanceled             = &Error{Code: CodeCanceled, Category: NoError, Reason: ReasonCanceledByUser}
	ErrTurnInProgress       = &Error{Code: CodeTurnInProgress, Category: RuntimeError}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument, Category: RuntimeError}
)

func newError(code Code, cat Category, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Category: cat, Message: fmt.Sprintf(format, args...), Err: err}
}

// Framing reports a malformed frame.
func Framing(format string, args ...interface{}) *Error {
	return newError(CodeProtocolFraming, RuntimeError, nil, format, args...)
}

// NotConnected reports a send attempted without a connected transport.
func NotConnected(connectionID string) *Error {
	return newError(CodeNotConnected, ConnectionFailure, nil, "connection %s is not connected", connectionID)
}

// Authentication wraps a credential or handshake authorization failure.
func Authentication(err error, format string, args ...interface{}) *Error {
	return newError(CodeAuthenticationFailed, AuthenticationFailure, err, format, args...)
}

// ConnectionFailed wraps a failure to open a connection.
func ConnectionFailed(err error, format string, args ...interface{}) *Error {
	return newError(CodeConnectionFailed, ConnectionFailure, err, format, args...)
}

// ConnectionLost reports a connection that dropped while turns were outstanding.
func ConnectionLost(err error, format string, args ...interface{}) *Error {
	return newError(CodeConnectionLost, ConnectionFailure, err, format, args...)
}

// Timeout reports a turn that waited too long for its final result.
func Timeout(format string, args ...interface{}) *Error {
	return newError(CodeTimeout, ServiceTimeout, nil, format, args...)
}

// Service reports an error message sent by the service for a single turn.
func Service(cat Category, format string, args ...interface{}) *Error {
	return newError(CodeServiceError, cat, nil, format, args...)
}

// Canceled reports a turn canceled by the caller.
func Canceled(format string, args ...interface{}) *Error {
	e := newError(CodeCanceled, NoError, nil, format, args...)
	e.Reason = ReasonCanceledByUser
	return e
}

// TurnInProgress reports a second streaming turn in single-shot mode.
func TurnInProgress(requestID string) *Error {
	return newError(CodeTurnInProgress, RuntimeError, nil, "turn %s is still streaming audio", requestID)
}

// InvalidArgument reports bad caller input.
func InvalidArgument(format string, args ...interface{}) *Error {
	return newError(CodeInvalidArgument, RuntimeError, nil, format, args...)
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CategoryOf returns the Category of err. Foreign errors are RuntimeError.
func CategoryOf(err error) Category {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return RuntimeError
}
