package land

import (
	"errors"
	"fmt"
)

// Code identifies an engine error on the wire. The transport layer translates
// codes into structured error payloads for clients.
type Code string

const (
	CodeJoinDenied         Code = "JOIN_DENIED"
	CodeJoinFailed         Code = "JOIN_FAILED"
	CodeJoinRoomFull       Code = "JOIN_ROOM_FULL"
	CodeJoinRoomNotFound   Code = "JOIN_ROOM_NOT_FOUND"
	CodeJoinLandIDMismatch Code = "JOIN_LAND_ID_MISMATCH"

	CodeActionNotRegistered  Code = "ACTION_NOT_REGISTERED"
	CodeActionInvalidPayload Code = "ACTION_INVALID_PAYLOAD"
	CodeActionHandlerError   Code = "ACTION_HANDLER_ERROR"

	CodeEventNotRegistered  Code = "EVENT_NOT_REGISTERED"
	CodeEventInvalidPayload Code = "EVENT_INVALID_PAYLOAD"
	CodeEventHandlerError   Code = "EVENT_HANDLER_ERROR"

	CodeInvalidMessageFormat Code = "INVALID_MESSAGE_FORMAT"
	CodeInvalidJSON          Code = "INVALID_JSON"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
)

// ErrKeeperStopped is returned when an operation reaches a Land that has
// already shut down.
var ErrKeeperStopped = errors.New("land keeper stopped")

// Error carries a wire code alongside the usual error chain.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

// NewError constructs a coded engine error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a wire code to an underlying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail annotates the error with a structured detail entry.
func (e *Error) WithDetail(key string, detail any) *Error {
	if e == nil {
		return nil
	}
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = detail
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// CodeOf extracts the wire code from an error chain, defaulting to fallback.
func CodeOf(err error, fallback Code) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return fallback
}
