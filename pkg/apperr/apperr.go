// Package apperr carries error kind, machine code and a human readable reason
// across package and service boundaries.
package apperr

import (
	"errors"
	"fmt"
	"sync"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindStock           Kind = "stock"
	KindPricing         Kind = "pricing"
	KindSubmission      Kind = "submission"
	KindLifecycle       Kind = "lifecycle"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUnavailable     Kind = "unavailable"
	KindPersistence     Kind = "persistence"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Reason  string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	registryMu sync.RWMutex
	registry   = map[string]*Error{}
)

// Define declares a sentinel error and registers its code so that HTTP clients
// can map a decoded response back to it.
func Define(kind Kind, code, reason string) *Error {
	e := &Error{Kind: kind, Code: code, Reason: reason}
	registryMu.Lock()
	registry[code] = e
	registryMu.Unlock()
	return e
}

// Wrap returns a copy of sentinel with a specific reason. errors.Is(result, sentinel) holds.
func Wrap(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:   sentinel.Kind,
		Code:   sentinel.Code,
		Reason: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}

// WithDetails is Wrap with per-field details attached.
func WithDetails(sentinel *Error, details map[string]string, format string, args ...any) *Error {
	e := Wrap(sentinel, format, args...)
	e.Details = details
	return e
}

// FromWire rebuilds an error decoded from an HTTP error body.
func FromWire(kind, code, reason string, details map[string]string) *Error {
	registryMu.RLock()
	sentinel, ok := registry[code]
	registryMu.RUnlock()
	if ok {
		e := WithDetails(sentinel, details, "%s", reason)
		if reason == "" {
			e.Reason = sentinel.Reason
		}
		return e
	}
	if kind == "" {
		kind = string(KindInternal)
	}
	return &Error{Kind: Kind(kind), Code: code, Reason: reason, Details: details}
}

// KindOf reports the kind of the outermost *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of the outermost *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func DetailsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}

var (
	ErrUnavailable     = Define(KindUnavailable, "upstream_unavailable", "service temporarily unavailable")
	ErrTimeout         = Define(KindUnavailable, "timeout", "request timed out")
	ErrInvalidRequest  = Define(KindValidation, "invalid_request", "invalid request")
	ErrUnauthenticated = Define(KindUnauthenticated, "unauthorized", "missing shopper identity")
	ErrInternal        = Define(KindInternal, "internal_error", "internal error")
)
