// Package certerr defines the single tagged error type shared by the
// issuance pipeline. Every failure that crosses a component boundary carries
// a Kind so callers can decide between retrying, surfacing an actionable
// message, or reporting an internal fault.
package certerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig     Kind = "config"     // missing or invalid configuration; never retried
	KindTransient  Kind = "transient"  // network/5xx failures after retries were exhausted
	KindAuth       Kind = "auth"       // provider rejected our credentials or permissions
	KindValidation Kind = "validation" // DNS propagation, precheck or CA validation failed
	KindInternal   Kind = "internal"   // anything else
)

// Error is the tagged error carried through the issuance pipeline.
// Detail is safe to show to the domain owner; Err holds the underlying cause
// and is only meant for logs.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Detail
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, certerr.Transient) style checks work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Detail == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind markers for errors.Is.
var (
	Config     = &Error{Kind: KindConfig}
	Transient  = &Error{Kind: KindTransient}
	Auth       = &Error{Kind: KindAuth}
	Validation = &Error{Kind: KindValidation}
	Internal   = &Error{Kind: KindInternal}
)

// New returns an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Configf formats a configuration error.
func Configf(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the user-facing detail of the first *Error in err's
// chain, or fallback when none is present.
func DetailOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	return fallback
}
