package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a relay failure by where it happened.
type Kind string

const (
	KindCapture          Kind = "CAPTURE"           // capture source failed, cycle skipped
	KindClassification   Kind = "CLASSIFICATION"    // candidate malformed, dropped
	KindTransportConnect Kind = "TRANSPORT_CONNECT" // dial or registration failed, retry scheduled
	KindTransportSend    Kind = "TRANSPORT_SEND"    // mid-session write failed, session torn down
	KindParse            Kind = "PARSE"             // inbound frame could not be decoded
	KindConfig           Kind = "CONFIG"            // startup only, fatal
)

// RelayError carries the failure kind and the operation that produced it.
type RelayError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: err}
}

// NewCapture wraps a capture collaborator failure.
func NewCapture(op string, err error) *RelayError {
	return newError(KindCapture, op, err)
}

// NewClassification wraps a rejected candidate.
func NewClassification(op string, err error) *RelayError {
	return newError(KindClassification, op, err)
}

// NewTransportConnect wraps a failed connection attempt.
func NewTransportConnect(op string, err error) *RelayError {
	return newError(KindTransportConnect, op, err)
}

// NewTransportSend wraps a failed write on an open session.
func NewTransportSend(op string, err error) *RelayError {
	return newError(KindTransportSend, op, err)
}

// NewParse wraps a malformed inbound message.
func NewParse(op string, err error) *RelayError {
	return newError(KindParse, op, err)
}

// NewConfig wraps an invalid startup configuration.
func NewConfig(op string, err error) *RelayError {
	return newError(KindConfig, op, err)
}

// Is reports whether err, or anything it wraps, is a RelayError of the given kind.
func Is(err error, kind Kind) bool {
	var rErr *RelayError
	if stderrors.As(err, &rErr) {
		return rErr.Kind == kind
	}
	return false
}
