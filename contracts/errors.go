package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Wire error codes written into the header of error telegrams
const (
	CodeMalformedHeader = "EHEADER"
	CodeUnknownType     = "ETYPE"
	CodeMalformedBody   = "EBODY"
	CodeHandler         = "EHANDLER"
	CodeTimeout         = "ETIMEOUT"
)

// CodedError is an error that knows its wire error code. Handlers may return one
// to choose the code of the error telegram.
type CodedError interface {
	error
	Code() string
}

// MalformedHeaderError reports a header that cannot be decoded
type MalformedHeaderError struct {
	Field  string // Header field that failed
	Offset int    // Byte offset of the field in the telegram
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("osip: malformed header: %s at offset %d: %s", e.Field, e.Offset, e.Reason)
}

// Code implements CodedError
func (e *MalformedHeaderError) Code() string {
	return CodeMalformedHeader
}

// UnknownTelegramTypeError reports a type identifier missing from the registry
type UnknownTelegramTypeError struct {
	Type string
}

func (e *UnknownTelegramTypeError) Error() string {
	return fmt.Sprintf("osip: unknown telegram type %q", e.Type)
}

// Code implements CodedError
func (e *UnknownTelegramTypeError) Code() string {
	return CodeUnknownType
}

// MalformedBodyError reports a body field that cannot be decoded or encoded
type MalformedBodyError struct {
	Type   string // Telegram type
	Field  string // Offending field name
	Offset int    // Byte offset of the field in the body
	Reason string
}

func (e *MalformedBodyError) Error() string {
	return fmt.Sprintf("osip: malformed %s body: field %s at offset %d: %s", e.Type, e.Field, e.Offset, e.Reason)
}

// Code implements CodedError
func (e *MalformedBodyError) Code() string {
	return CodeMalformedBody
}

// HandlerError wraps a failure raised by an application handler
type HandlerError struct {
	Type string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("osip: handler for %s failed: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Code returns the handler's own code when it supplied one
func (e *HandlerError) Code() string {
	var coded CodedError
	if errors.As(e.Err, &coded) {
		return coded.Code()
	}
	return CodeHandler
}

// ProcessingTimeoutError reports a telegram that did not reach a terminal state in time
type ProcessingTimeoutError struct {
	Type    string
	Timeout time.Duration
	Err     error
}

func (e *ProcessingTimeoutError) Error() string {
	return fmt.Sprintf("osip: processing %s exceeded %v: %v", e.Type, e.Timeout, e.Err)
}

func (e *ProcessingTimeoutError) Unwrap() error {
	return e.Err
}

// Code implements CodedError
func (e *ProcessingTimeoutError) Code() string {
	return CodeTimeout
}

// HardFailureError tells the transport that no reply could be produced
type HardFailureError struct {
	Reason string
	Err    error
}

func (e *HardFailureError) Error() string {
	return fmt.Sprintf("osip: hard failure: %s: %v", e.Reason, e.Err)
}

func (e *HardFailureError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the wire code for err. Errors without a code map to CodeHandler.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeHandler
}
