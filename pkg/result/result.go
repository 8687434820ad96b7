// Package result holds the outcome type returned by the data-access
// services: a value, not found, denied with a policy decision, or error.
package result

import (
	"github.com/platinummonkey/quill/pkg/access"
)

// Status is the outcome of a data-access call
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusDenied   Status = "denied"
	StatusError    Status = "error"
)

// Result carries a value or the reason there is none. Decision is set for
// StatusDenied; Err is set for StatusError.
type Result[T any] struct {
	Status   Status
	Value    T
	Decision *access.Decision
	Err      error
}

// OK reports whether the call succeeded
func (r Result[T]) OK() bool {
	return r.Status == StatusOK
}

// Guidance returns the user-facing explanation of a denial
func (r Result[T]) Guidance() string {
	if r.Decision == nil {
		return ""
	}
	return r.Decision.Guidance()
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Status: StatusOK, Value: v}
}

func NotFound[T any]() Result[T] {
	return Result[T]{Status: StatusNotFound}
}

// Denied wraps a decision; the decision is forced to a denial
func Denied[T any](d access.Decision) Result[T] {
	d.Allowed = false
	return Result[T]{Status: StatusDenied, Decision: &d}
}

func Failed[T any](err error) Result[T] {
	return Result[T]{Status: StatusError, Err: err}
}

// Recast carries a non-OK outcome over to another value type
func Recast[T, U any](r Result[U]) Result[T] {
	return Result[T]{Status: r.Status, Decision: r.Decision, Err: r.Err}
}
