package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers at the service boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindMalformed    Kind = "malformed"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage"
	KindOverloaded   Kind = "overloaded"
)

// Error is the structured error returned by every service operation.
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(string(e.Kind))
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Error())
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(op string, fields ...FieldError) error {
	return &Error{Kind: KindValidation, Op: op, Msg: "validation failed", Fields: fields}
}

func Malformed(op string, err error) error {
	return &Error{Kind: KindMalformed, Op: op, Msg: "malformed input", Err: err}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Unauthorized(op, msg string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Msg: msg}
}

func Conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg}
}

func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Msg: "storage failure", Err: err}
}

func Overloaded(op, msg string) error {
	return &Error{Kind: KindOverloaded, Op: op, Msg: msg}
}

// KindOf reports the kind of err. Errors that did not come from this
// package are treated as storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// FieldsOf returns the field-level details attached to err, if any.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
