// Package lookup models keyed reads that can find a value, find nothing, or fail.
package lookup

import "errors"

// Kind tags a Result.
type Kind int

const (
	KindNotFound Kind = iota
	KindFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// Result is Found(value), NotFound, or Failed(err). The zero value is NotFound.
type Result[T any] struct {
	kind  Kind
	value *T
	err   error
}

func Found[T any](value *T) Result[T] {
	if value == nil {
		return Result[T]{kind: KindNotFound}
	}
	return Result[T]{kind: KindFound, value: value}
}

func NotFound[T any]() Result[T] {
	return Result[T]{kind: KindNotFound}
}

func Failed[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("lookup failed")
	}
	return Result[T]{kind: KindFailed, err: err}
}

func (r Result[T]) Kind() Kind { return r.kind }

func (r Result[T]) IsFound() bool { return r.kind == KindFound }

func (r Result[T]) IsNotFound() bool { return r.kind == KindNotFound }

func (r Result[T]) IsFailed() bool { return r.kind == KindFailed }

// Value returns the found value, or nil.
func (r Result[T]) Value() *T { return r.value }

// Err returns the failure reason, or nil.
func (r Result[T]) Err() error { return r.err }

// Collapse treats NotFound and Failed alike, matching callers that cannot act on the difference.
func (r Result[T]) Collapse() (*T, bool) {
	if r.kind != KindFound {
		return nil, false
	}
	return r.value, true
}
