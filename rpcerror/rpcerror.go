// Package rpcerror defines the failure taxonomy shared by the client and
// server halves of muxrpc. Wire-visible failures carry a Code; local failures
// use the sentinel errors below and are classified via CodeOf.
package rpcerror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Code identifies the kind of failure carried in a wire Error / StreamError.
type Code string

const (
	CodeServiceNotFound     Code = "ServiceNotFound"
	CodeMethodNotFound      Code = "MethodNotFound"
	CodeInvalidParameters   Code = "InvalidParameters"
	CodeSerializationError  Code = "SerializationError"
	CodeStreamError         Code = "StreamError"
	CodeTimeoutError        Code = "TimeoutError"
	CodeAuthenticationError Code = "AuthenticationError"
	CodeAuthorizationError  Code = "AuthorizationError"
	// CodeInternalError is the fallback for any failure without a closer mapping.
	CodeInternalError Code = "InternalError"
	// CodeConnectionError is raised locally, never transported.
	CodeConnectionError Code = "ConnectionError"
)

// Sentinel errors for conditions detected locally.
var (
	ErrNotConnected    = errors.New("transport not connected")
	ErrConnectionLost  = errors.New("connection lost")
	ErrTransportClosed = errors.New("transport closed")
	ErrStreamClosed    = errors.New("stream closed")
	ErrDuplicateID     = errors.New("duplicate method id")
	ErrTimeout         = errors.New("call timed out")
)

// Error is a failure with a wire-transportable code. It is what a caller
// receives when the remote handler fails, and what CodeOf unwraps to.
type Error struct {
	Code    Code
	Message string
	Details json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches opaque encoded detail data and returns the same Error.
func (e *Error) WithDetails(details json.RawMessage) *Error {
	e.Details = details
	return e
}

// CodeOf classifies an arbitrary error into the nearest Code.
// Unmapped errors fall back to CodeInternalError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return CodeTimeoutError
	case errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrTransportClosed):
		return CodeConnectionError
	case errors.Is(err, ErrStreamClosed):
		return CodeStreamError
	default:
		return CodeInternalError
	}
}

// IsConnection reports whether err is one of the connection-level sentinels.
func IsConnection(err error) bool {
	return CodeOf(err) == CodeConnectionError
}
