// Package loaditerr defines the error-kind taxonomy shared by every layer of
// the engine, from the table store up through the cluster protocol.
package loaditerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers (and the wire protocol's E-frame) can
// react programmatically instead of parsing messages.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindInvalidSchema Kind = "invalid_schema"
	KindInvalidQuery  Kind = "invalid_query"
	KindIntegrity     Kind = "integrity"
	KindOutOfMemory   Kind = "out_of_memory"
	KindPermission    Kind = "permission"
	KindProtocol      Kind = "protocol"
	KindIO            Kind = "io"
)

// Error wraps an underlying cause with a Kind so errors.As can recover it
// through layers of fmt.Errorf("...: %w", err) wrapping.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a bare Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
