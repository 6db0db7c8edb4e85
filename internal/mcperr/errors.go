// Package mcperr defines the closed error taxonomy used on the JSON-RPC
// boundary. Every error that crosses the wire carries one of these codes;
// internal diagnostics stay in the log sink.
package mcperr

import "fmt"

// Code is a JSON-RPC error code. The protocol range follows the JSON-RPC 2.0
// spec; the tooling range (-32000 and below) is server-defined.
type Code int

const (
	// Protocol codes.
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603

	// Tooling codes.
	ToolNotFound        Code = -32000
	ToolExecutionFailed Code = -32001
	InvalidToolParams   Code = -32002
	ValidationError     Code = -32003
	TimeoutError        Code = -32004
	StateError          Code = -32005
	ResourceNotFound    Code = -32010
	PermissionDenied    Code = -32011
)

// Description returns the stable human-readable summary for a code.
func (c Code) Description() string {
	switch c {
	case ParseError:
		return "Parse error: invalid JSON was received"
	case InvalidRequest:
		return "Invalid request: not a valid request object"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	case ToolNotFound:
		return "Tool not found"
	case ToolExecutionFailed:
		return "Tool execution failed"
	case InvalidToolParams:
		return "Invalid tool params"
	case ValidationError:
		return "Validation error"
	case TimeoutError:
		return "Timeout error"
	case StateError:
		return "State error"
	case ResourceNotFound:
		return "Resource not found"
	case PermissionDenied:
		return "Permission denied"
	default:
		return "Unknown error"
	}
}

// Error is the single error type surfaced to clients. Data carries optional
// structured hints (remediation steps, can_retry, elapsed durations).
type Error struct {
	Code    Code
	Message string
	Data    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// With attaches a key/value pair to the error's data payload and returns the
// error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Retryable marks whether the caller can usefully retry the operation.
func (e *Error) Retryable(ok bool) *Error {
	return e.With("can_retry", ok)
}

// From coerces an arbitrary error to *Error. Taxonomy errors pass through
// unchanged; anything else becomes the fallback code.
func From(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*Error); ok {
		return me
	}
	return &Error{Code: fallback, Message: err.Error()}
}
