package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure. The orchestrator and the CLI decide retry
// and display behavior from the kind alone, never from status codes.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindAuth          Kind = "auth"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindLocked        Kind = "locked"
	KindServer        Kind = "server"
	KindValidation    Kind = "validation"
	KindSerialization Kind = "serialization"
)

// Error is a classified sync failure. Status carries the HTTP status when the
// failure came from a remote response, 0 otherwise.
type Error struct {
	Kind    Kind
	Status  int
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

// NewError builds a classified error wrapping err (which may be nil).
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the classification of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsRetryable reports whether a failure of this classification may succeed on
// a later attempt without any change in input. Auth and forbidden failures
// need new credentials, validation and serialization failures indicate a
// permanently bad payload, and a conflict needs a fresh round with fresh
// remote data, so none of those qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindServer, KindLocked:
		return true
	}
	return false
}
