package transcribe

import (
	"errors"
	"fmt"
)

// Class buckets transcription failures by how the engine must react.
type Class string

const (
	// ClassAuth: invalid credentials. Never retried; reported to the user.
	ClassAuth Class = "auth"
	// ClassTransient: network or timeout failures. Retried with backoff up
	// to a fixed bound, then reported.
	ClassTransient Class = "transient"
	// ClassProtocol: malformed backend response. Never retried.
	ClassProtocol Class = "protocol"
)

// Error is a classified transcription failure.
type Error struct {
	class Class
	err   error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Class() Class  { return e.class }

// Autherrf builds an auth-class error.
func Autherrf(format string, args ...interface{}) *Error {
	return &Error{class: ClassAuth, err: fmt.Errorf(format, args...)}
}

// Transientf builds a transient-class error.
func Transientf(format string, args ...interface{}) *Error {
	return &Error{class: ClassTransient, err: fmt.Errorf(format, args...)}
}

// Protocolf builds a protocol-class error.
func Protocolf(format string, args ...interface{}) *Error {
	return &Error{class: ClassProtocol, err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the failure class from an error chain. Unclassified
// errors are treated as protocol failures: never retried, always reported.
func ClassOf(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.class
	}
	return ClassProtocol
}
