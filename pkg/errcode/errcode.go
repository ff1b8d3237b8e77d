// Package errcode defines the flat error taxonomy shared by the parser,
// compiler and runtime.
//
// Codes are negative integers so that entry points can report failure by
// sign. A component keeps the first error it sees and ignores everything
// after it; see Latch.
package errcode

import (
	"errors"
	"fmt"
)

// Code is a runtime or compile-time error code. OK is zero, failures are
// negative.
type Code int

const (
	OK Code = -iota
	InvalidToken
	InvalidSyntax
	InvalidLeftValue
	InvalidSemantic
	NotEnoughMemory
	NotImplemented
	StackOverflow
	ResourceLimit
	InvalidBytecode
	InvalidInput
	InvalidCallor
	NotDefinedIdentifier
	SystemError
	Uncaught
)

var codeNames = map[Code]string{
	OK:                   "ok",
	InvalidToken:         "invalid token",
	InvalidSyntax:        "invalid syntax",
	InvalidLeftValue:     "invalid left value",
	InvalidSemantic:      "invalid semantic",
	NotEnoughMemory:      "not enough memory",
	NotImplemented:       "not implemented",
	StackOverflow:        "stack overflow",
	ResourceLimit:        "resource out of limit",
	InvalidBytecode:      "invalid bytecode",
	InvalidInput:         "invalid input",
	InvalidCallor:        "invalid callor",
	NotDefinedIdentifier: "not defined identifier",
	SystemError:          "system error",
	Uncaught:             "uncaught exception",
}

// String returns the human-readable name of a code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// Error is a located error carrying a Code.
type Error struct {
	Code Code
	Line int // 1-based; zero when unknown
	Col  int
	Msg  string
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// At creates an Error attached to a source position.
func At(code Code, line, col int, format string, args ...any) *Error {
	return &Error{Code: code, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var s string
	if e.Line > 0 {
		s = fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Code)
	} else {
		s = e.Code.String()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, errcode.ErrStackOverflow) works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidToken         = &Error{Code: InvalidToken}
	ErrInvalidSyntax        = &Error{Code: InvalidSyntax}
	ErrInvalidLeftValue     = &Error{Code: InvalidLeftValue}
	ErrInvalidSemantic      = &Error{Code: InvalidSemantic}
	ErrNotEnoughMemory      = &Error{Code: NotEnoughMemory}
	ErrNotImplemented       = &Error{Code: NotImplemented}
	ErrStackOverflow        = &Error{Code: StackOverflow}
	ErrResourceLimit        = &Error{Code: ResourceLimit}
	ErrInvalidBytecode      = &Error{Code: InvalidBytecode}
	ErrInvalidInput         = &Error{Code: InvalidInput}
	ErrInvalidCallor        = &Error{Code: InvalidCallor}
	ErrNotDefinedIdentifier = &Error{Code: NotDefinedIdentifier}
	ErrSystem               = &Error{Code: SystemError}
	ErrUncaught             = &Error{Code: Uncaught}
)

// CodeOf extracts the Code from err. Nil maps to OK and foreign errors map
// to SystemError.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return SystemError
}

// Latch holds the first error reported to it.
type Latch struct {
	err *Error
}

// Set records err unless an error is already latched. It returns the
// latched error.
func (l *Latch) Set(err *Error) *Error {
	if l.err == nil {
		l.err = err
	}
	return l.err
}

// Failed reports whether an error has been latched.
func (l *Latch) Failed() bool { return l.err != nil }

// Err returns the latched error as an error value (nil when none).
func (l *Latch) Err() error {
	if l.err == nil {
		return nil
	}
	return l.err
}

// Get returns the latched *Error, or nil.
func (l *Latch) Get() *Error { return l.err }
