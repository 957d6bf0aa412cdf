// Package apperr is the error taxonomy shared by the task and messaging
// services and translated to HTTP statuses by the api package.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrTooOld            = errors.New("too old")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransient         = errors.New("transient infrastructure failure")
)

// Error carries a kind sentinel plus a human message and, for validation
// failures, per-field detail.
type Error struct {
	Kind    error
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func Forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func TooOld(format string, args ...any) error {
	return &Error{Kind: ErrTooOld, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure error so callers can still inspect the
// underlying cause with errors.As.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrTransient, err))
}

// Validation collects per-field problems. A nil *Validation or one with no
// fields converts to a nil error via Err.
type Validation struct {
	fields map[string]string
}

func (v *Validation) Add(field, problem string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, exists := v.fields[field]; !exists {
		v.fields[field] = problem
	}
}

func (v *Validation) Err() error {
	if v == nil || len(v.fields) == 0 {
		return nil
	}
	return &Error{Kind: ErrValidation, Message: "invalid input", Fields: v.fields}
}

// FieldsOf returns the per-field detail of a validation error, or nil.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
