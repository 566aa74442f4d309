package pollrpc

import (
	"errors"
	"fmt"
)

// Error codes reserved by JSON-RPC 2.0.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternalError  = NewError(CodeInternalError, "Internal error")
)

// Error represents a JSON-RPC error object.
//
// [Error] supports the go error interface and may be returned from a [Receiver]
// to control the error sent to the remote caller. Data is Nil when absent.
type Error struct {
	Data    Value
	Message string
	Code    int64
}

// NewError returns a new [Error] with its Code and Message fields assigned to the given values.
func NewError(code int64, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WithData returns a copy of e with its Data field set to data.
func (e *Error) WithData(data Value) *Error {
	return &Error{Code: e.Code, Message: e.Message, Data: data}
}

// asError converts any error into an [*Error].
// Errors that are not already an [*Error] become [ErrInternalError] with the error text as data.
func asError(err error) *Error {
	var je *Error

	if errors.As(err, &je) {
		return je
	}

	return ErrInternalError.WithData(String(err.Error()))
}

// Is returns true if t is an [*Error] with the same Code.
func (e *Error) Is(t error) bool {
	var je *Error

	if errors.As(t, &je) {
		return e.Code == je.Code
	}

	return false
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data.IsNil() {
		return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("jsonrpc error %d: %s (%s)", e.Code, e.Message, e.Data)
}

// Value returns the error object as it appears on the wire.
func (e *Error) Value() Value {
	fields := map[string]Value{
		"code":    Integer(e.Code),
		"message": String(e.Message),
	}

	if !e.Data.IsNil() {
		fields["data"] = e.Data
	}

	return Object(fields)
}
