package models

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced to callers of a chat turn
type Kind string

const (
	KindValidation    Kind = "validation"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindProvider      Kind = "provider"
	KindStore         Kind = "store"
	KindConfig        Kind = "config"
)

// Sentinels for errors.Is matching on kind
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrProvider      = &Error{Kind: KindProvider}
	ErrStore         = &Error{Kind: KindStore}
	ErrConfig        = &Error{Kind: KindConfig}
)

// Error is a classified error with a human-readable message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrProvider)
// works for every provider failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a classified error
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validationf creates a validation error
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
