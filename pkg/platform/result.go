package platform

import (
	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
)

// Result is either data or a classified failure, never both.
type Result[T any] struct {
	Data T
	Err  *nerrors.Error
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

func Fail[T any](err *nerrors.Error) Result[T] {
	return Result[T]{Err: err}
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap converts the result to Go's (value, error) convention.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Data, nil
}
