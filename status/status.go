// Package status defines the closed set of outcome codes returned by the
// engine, the error type that carries them, and a value-or-error Result.
//
// A nil error means OK. Every other outcome is a *Error whose Code can be
// matched with errors.Is against the sentinel values below:
//
//	err := eng.Get(key, fn)
//	switch {
//	case err == nil:
//	case errors.Is(err, status.ErrNotFound):
//	default:
//		return err
//	}
//
// NotFound and StoppedByCallback are ordinary outcomes, not faults.
// The human-readable message travels inside the returned error, so there is
// no shared "last error" slot to race on.
package status

import (
	"errors"
	"fmt"
)

// Code is an engine outcome.
type Code int

const (
	OK Code = iota
	NotFound
	NotSupported
	InvalidArgument
	ConfigParsingError
	ConfigTypeError
	StoppedByCallback
	OutOfMemory
	WrongEngineName
	TransactionScopeError
	DefragError
	UnknownError
)

var codeNames = [...]string{
	OK:                    "OK",
	NotFound:              "NOT_FOUND",
	NotSupported:          "NOT_SUPPORTED",
	InvalidArgument:       "INVALID_ARGUMENT",
	ConfigParsingError:    "CONFIG_PARSING_ERROR",
	ConfigTypeError:       "CONFIG_TYPE_ERROR",
	StoppedByCallback:     "STOPPED_BY_CB",
	OutOfMemory:           "OUT_OF_MEMORY",
	WrongEngineName:       "WRONG_ENGINE_NAME",
	TransactionScopeError: "TRANSACTION_SCOPE_ERROR",
	DefragError:           "DEFRAG_ERROR",
	UnknownError:          "UNKNOWN_ERROR",
}

// String returns the canonical upper-case name of the code.
func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// IsAbsence reports whether c is a normal "nothing there" outcome.
func (c Code) IsAbsence() bool { return c == NotFound }

// IsMisuse reports whether c is a deterministic caller error that retrying
// with the same input cannot fix.
func (c Code) IsMisuse() bool {
	switch c {
	case InvalidArgument, ConfigTypeError, TransactionScopeError, WrongEngineName, NotSupported:
		return true
	}
	return false
}

// Retryable reports whether the caller may retry after freeing resources.
func (c Code) Retryable() bool { return c == OutOfMemory }

// Error is a non-OK outcome with an optional message and cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Code: NotFound}
	ErrNotSupported      = &Error{Code: NotSupported}
	ErrInvalidArgument   = &Error{Code: InvalidArgument}
	ErrConfigParsing     = &Error{Code: ConfigParsingError}
	ErrConfigType        = &Error{Code: ConfigTypeError}
	ErrStoppedByCallback = &Error{Code: StoppedByCallback}
	ErrOutOfMemory       = &Error{Code: OutOfMemory}
	ErrWrongEngineName   = &Error{Code: WrongEngineName}
	ErrTransactionScope  = &Error{Code: TransactionScopeError}
	ErrDefrag            = &Error{Code: DefragError}
	ErrUnknown           = &Error{Code: UnknownError}
)

// New returns an error with the given code and message. New(OK, ...) is nil.
func New(code Code, msg string) error {
	if code == OK {
		return nil
	}
	return &Error{Code: code, Msg: msg}
}

// Errorf is New with formatting.
func Errorf(code Code, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to cause. A nil cause yields nil.
func Wrap(code Code, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, Err: cause}
}

// CodeOf returns the outcome carried by err: OK for nil, the code of the
// first *Error in the chain, UnknownError for anything else.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return UnknownError
}

// Message returns the human-readable description of a failed call, or ""
// for nil.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
