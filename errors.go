// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"errors"
	"fmt"
)

// A Code classifies the errors reported by this package.
type Code byte

const (
	CodeSerialize     Code = 1 + iota // encoding a message failed
	CodeDeserialize                   // decoding a message failed
	CodeTypeMismatch                  // message carries a different element type
	CodeCountMismatch                 // message carries a different element count
	CodeFailedRequest                 // the transport reported a failure
	CodeTimeout                       // a bounded wait was exhausted
	CodeInternal                      // an invariant was violated
)

var codeString = [...]string{
	CodeSerialize:     "serialize error",
	CodeDeserialize:   "deserialize error",
	CodeTypeMismatch:  "message type mismatch",
	CodeCountMismatch: "message count mismatch",
	CodeFailedRequest: "request failed",
	CodeTimeout:       "request timeout",
	CodeInternal:      "internal error",
}

func (c Code) String() string {
	if int(c) < len(codeString) && codeString[c] != "" {
		return codeString[c]
	}
	return fmt.Sprintf("code %d", byte(c))
}

// Error is the concrete type of errors reported by the methods of a [Comm],
// [Scope], [Request], or [Type].
type Error struct {
	Code    Code
	Status  int    // transport status, for CodeFailedRequest
	Message string // optional detail
	Err     error  // optional underlying error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Code == CodeFailedRequest {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap reports the underlying error of e, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code as e.
// This allows the Err* values to be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors for use with errors.Is. Each matches any *Error having the
// same code.
var (
	ErrSerialize     = &Error{Code: CodeSerialize}
	ErrDeserialize   = &Error{Code: CodeDeserialize}
	ErrTypeMismatch  = &Error{Code: CodeTypeMismatch}
	ErrCountMismatch = &Error{Code: CodeCountMismatch}
	ErrFailedRequest = &Error{Code: CodeFailedRequest}
	ErrTimeout       = &Error{Code: CodeTimeout}
	ErrInternal      = &Error{Code: CodeInternal}
)

// ErrNotComplete is reported when the result of a request is requested
// before the request has completed.
var ErrNotComplete = errors.New("request is not complete")

func errorf(code Code, msg string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(msg, args...)}
}

func wrapError(code Code, err error) *Error {
	if e, ok := err.(*Error); ok && e.Code == code {
		return e
	}
	return &Error{Code: code, Err: err}
}

func failedRequest(st Status) *Error {
	return &Error{Code: CodeFailedRequest, Status: st.Code, Err: st.Err}
}
