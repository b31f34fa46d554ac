// Package gqlerror defines the structured failures reported while compiling a
// request into a plan and while evaluating plans.
package gqlerror

import (
	"fmt"
	"strings"

	language "github.com/hanpama/entityplan/internal/language"
)

// Kind classifies an Error. A Kind is itself an error so that callers can
// write errors.Is(err, gqlerror.UnknownField).
type Kind string

const (
	MalformedContext        Kind = "MalformedContext"
	UnknownField            Kind = "UnknownField"
	UnknownArgument         Kind = "UnknownArgument"
	UnknownDirective        Kind = "UnknownDirective"
	UnknownType             Kind = "UnknownType"
	MissingRequiredArgument Kind = "MissingRequiredArgument"
	MissingRequiredVariable Kind = "MissingRequiredVariable"
	InvalidFragmentSpread   Kind = "InvalidFragmentSpread"
	InvalidValue            Kind = "InvalidValue"
	GetExpressionFailed     Kind = "GetExpressionError"

	// evaluation time
	ValidationFailed Kind = "ValidationError"
	ServiceNotFound  Kind = "ServiceNotFound"
	ExecutionFailed  Kind = "ExecutionError"
)

func (k Kind) Error() string { return string(k) }

type Error struct {
	Kind    Kind
	Message string
	Pos     *language.Position
	Err     error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind that carries cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// At records the source position of the offending node. Positions from
// documents parsed without a source keep only line and column.
func (e *Error) At(pos *language.Position) *Error {
	if pos != nil {
		e.Pos = pos
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Pos != nil && e.Pos.Line > 0 {
		if e.Pos.Src != nil && e.Pos.Src.Name != "" {
			fmt.Fprintf(&b, " %s:%d:%d", e.Pos.Src.Name, e.Pos.Line, e.Pos.Column)
		} else {
			fmt.Fprintf(&b, " (%d:%d)", e.Pos.Line, e.Pos.Column)
		}
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError aggregates every argument validation message of a call.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	msg := "validation failed:\n"
	for _, m := range e.Messages {
		msg += "- " + m + "\n"
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == ValidationFailed
}
