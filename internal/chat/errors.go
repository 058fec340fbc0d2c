package chat

import (
	"errors"
	"fmt"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// ErrorKind classifies failures reported back to the actor of an operation.
type ErrorKind string

const (
	KindValidation      ErrorKind = protocol.CodeValidation
	KindUnauthorized    ErrorKind = protocol.CodeUnauthorized
	KindRateLimited     ErrorKind = protocol.CodeRateLimited
	KindNotFound        ErrorKind = protocol.CodeNotFound
	KindUnauthenticated ErrorKind = protocol.CodeUnauthenticated
	KindInternal        ErrorKind = protocol.CodeInternal
)

// Error is an actor-scoped failure. Only KindUnauthenticated at connect time
// terminates a connection; everything else is reported and the connection
// stays up.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Payload renders the error for the wire. Internal causes are not exposed.
func (e *Error) Payload() protocol.ErrorPayload {
	return protocol.ErrorPayload{Message: e.Message, Code: string(e.Kind)}
}

func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func AuthorizationError(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func RateLimitError() *Error {
	return &Error{Kind: KindRateLimited, Message: "you are sending messages too fast, slow down"}
}

func NotFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func AuthenticationError(msg string, err error) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg, Err: err}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// AsError converts any error into an *Error, treating unknown errors as internal.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return internalError("internal error", err)
}

// KindOf returns the kind of err, or "" when err is nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

const msgNotMember = "not a member of this group"
