// Package xerrors provides the exchange's structured error taxonomy:
// Protocol and Business errors become client-visible events; Internal
// errors are fatal and must abort the process rather than silently
// diverge engine state.
package xerrors

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies a class of failure.
type Code string

const (
	// Protocol — malformed frame, unknown MsgType, missing required tag.
	CodeMalformedFrame    Code = "MALFORMED_FRAME"
	CodeUnknownMsgType    Code = "UNKNOWN_MSG_TYPE"
	CodeMissingTag        Code = "MISSING_TAG"
	CodeProtocolVersion   Code = "PROTOCOL_VERSION_UNSUPPORTED"
	CodeRateLimited       Code = "RATE_LIMITED"

	// Business — rejected by the engine, reported as an event.
	CodeUnknownInstrument Code = "UNKNOWN_INSTRUMENT"
	CodeInvalidOrder      Code = "INVALID_ORDER"
	CodeOrderNotFound     Code = "ORDER_NOT_FOUND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInsufficientPosition Code = "INSUFFICIENT_POSITION"
	CodeAmendWouldCross   Code = "AMEND_WOULD_CROSS"
	CodeUnsupportedAmend  Code = "UNSUPPORTED_AMEND"

	// Internal — invariant violation, must abort.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// ExchangeError is the single structured error type used across the
// engine, ingress, and egress stages.
type ExchangeError struct {
	Code      Code
	Message   string
	Details   map[string]any
	Timestamp time.Time
	File      string
	Line      int
	Cause     error
}

func (e *ExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Cause }

// WithDetail attaches a diagnostic key/value pair and returns the receiver.
func (e *ExchangeError) WithDetail(key string, value any) *ExchangeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an ExchangeError, capturing the caller's file/line.
func New(code Code, message string) *ExchangeError {
	_, file, line, _ := runtime.Caller(1)
	return &ExchangeError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *ExchangeError {
	_, file, line, _ := runtime.Caller(1)
	return &ExchangeError{Code: code, Message: fmt.Sprintf(format, args...), Timestamp: time.Now(), File: file, Line: line}
}

// Wrap attaches a code/message to an existing error, preserving it as Cause.
func Wrap(err error, code Code, message string) *ExchangeError {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &ExchangeError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line, Cause: err}
}

// As reports whether err's chain contains an *ExchangeError and, if so,
// assigns it to target.
func As(err error, target **ExchangeError) bool {
	if err == nil {
		return false
	}
	if xe, ok := err.(*ExchangeError); ok {
		*target = xe
		return true
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}
	return false
}

// Is reports whether err's chain carries the given Code.
func Is(err error, code Code) bool {
	var xe *ExchangeError
	return As(err, &xe) && xe.Code == code
}

// CodeOf extracts the Code from err's chain, or "" if none is found.
func CodeOf(err error) Code {
	var xe *ExchangeError
	if As(err, &xe) {
		return xe.Code
	}
	return ""
}

// IsInternal reports whether code denotes an unrecoverable invariant
// violation that must abort the process rather than become a client event.
func IsInternal(code Code) bool {
	return code == CodeInvariantViolation
}

// IsProtocol reports whether code is a protocol-tier failure (never
// touches engine state; reported as InvalidMessage to the originating
// socket).
func IsProtocol(code Code) bool {
	switch code {
	case CodeMalformedFrame, CodeUnknownMsgType, CodeMissingTag, CodeProtocolVersion, CodeRateLimited:
		return true
	default:
		return false
	}
}
