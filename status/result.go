package status

import "fmt"

// Result holds either a value or a non-OK outcome.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Fail wraps an error. A nil err is promoted to UnknownError so that a
// Result built with Fail is never mistaken for success.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = New(UnknownError, "result failed without an error")
	}
	return Result[T]{err: err}
}

// From builds a Result from a conventional (value, error) pair.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{val: v}
}

// OK reports whether the result holds a value.
func (r Result[T]) OK() bool { return r.err == nil }

// Err returns the failure, or nil.
func (r Result[T]) Err() error { return r.err }

// Code returns the outcome code.
func (r Result[T]) Code() Code { return CodeOf(r.err) }

// Value returns the held value. It panics on a failed result; check OK first.
func (r Result[T]) Value() T {
	if r.err != nil {
		panic(fmt.Sprintf("status: Value called on failed result: %v", r.err))
	}
	return r.val
}

// ValueOr returns the held value, or def on failure.
func (r Result[T]) ValueOr(def T) T {
	if r.err != nil {
		return def
	}
	return r.val
}

// Unwrap returns the value and error as a pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
