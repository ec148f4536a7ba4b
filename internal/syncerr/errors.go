package syncerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a stable error classification; string values never change
// across versions.
type Code string

const (
	CodeInvariantViolation Code = "invariant_violation"
	CodeSafetyStop         Code = "safety_stop"
	CodeSourceMalformed    Code = "source_malformed"
	CodeIOError            Code = "io_error"
)

// Error is the structured error carried by fatal pipeline failures.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can use errors.Is with sentinel values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func newError(code Code, msg string, ctx map[string]any) *Error {
	return &Error{Code: code, Message: msg, Context: ctx}
}

func Invariant(msg string, ctx map[string]any) *Error {
	return newError(CodeInvariantViolation, msg, ctx)
}

func SafetyStop(msg string, ctx map[string]any) *Error {
	return newError(CodeSafetyStop, msg, ctx)
}

func Malformed(msg string, ctx map[string]any) *Error {
	return newError(CodeSourceMalformed, msg, ctx)
}

func IO(msg string, err error) *Error {
	return &Error{Code: CodeIOError, Message: msg, cause: err}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// ExitCode maps an error to the process exit code contract:
// 0 success, 2 invariant violation, 3 safety stop, 4 I/O failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeInvariantViolation, CodeSourceMalformed:
			return 2
		case CodeSafetyStop:
			return 3
		case CodeIOError:
			return 4
		}
	}
	return 1
}

// Warning is a recoverable per-row problem collected during a pipeline
// run. Warnings never abort the run.
type Warning struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func Warn(code Code, msg string, ctx map[string]any) Warning {
	return Warning{Code: code, Message: msg, Context: ctx}
}
