package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindBusy                   ErrorKind = "Busy"
	KindNotFound               ErrorKind = "NotFound"
	KindRecognitionUnavailable ErrorKind = "RecognitionUnavailable"
	KindRecognitionAmbiguous   ErrorKind = "RecognitionAmbiguous"
	KindTranslationFailed      ErrorKind = "TranslationFailed"
	KindDeliveryUnreachable    ErrorKind = "DeliveryUnreachable"
	KindDeliveryRejected       ErrorKind = "DeliveryRejected"
	KindInvalidTransition      ErrorKind = "InvalidTransition"
)

// Error is the single error type used across the pipeline. Two errors match
// under errors.Is when their kinds are equal, so adapters can return
// pipeline.Errorf(KindDeliveryRejected, ...) and callers compare against the
// sentinels below.
type Error struct {
	Kind   ErrorKind
	Status string // provider or HTTP status, if any
	Detail string
	Err    error
}

// Sentinels for errors.Is
var (
	ErrBusy                   = &Error{Kind: KindBusy, Detail: "a transaction is already active"}
	ErrNotFound               = &Error{Kind: KindNotFound, Detail: "no such active transaction"}
	ErrRecognitionUnavailable = &Error{Kind: KindRecognitionUnavailable}
	ErrRecognitionAmbiguous   = &Error{Kind: KindRecognitionAmbiguous}
	ErrTranslationFailed      = &Error{Kind: KindTranslationFailed}
	ErrDeliveryUnreachable    = &Error{Kind: KindDeliveryUnreachable}
	ErrDeliveryRejected       = &Error{Kind: KindDeliveryRejected}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
)

// Errorf builds an Error of the given kind with a formatted detail
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WithStatus returns a copy of e carrying the given status
func (e *Error) WithStatus(status string) *Error {
	c := *e
	c.Status = status
	return &c
}

// Wrap returns a copy of e wrapping the underlying cause
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != "" {
		msg += " (status " + e.Status + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the kind of err, or fallback if err carries none
func KindOf(err error, fallback ErrorKind) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return fallback
}

// classify converts an adapter error into a pipeline Error, keeping the
// adapter's own kind when it already reported one.
func classify(err error, fallback ErrorKind) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: fallback, Err: err}
}
