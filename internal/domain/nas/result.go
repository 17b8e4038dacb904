package nas

import (
	"encoding/json"
	"errors"
)

// ErrInvalidMAC is returned for hardware addresses that are not six hex octets.
var ErrInvalidMAC = errors.New("invalid MAC address")

// ErrorKind is the closed set of failures surfaced to callers.
type ErrorKind int

const (
	// ConnectionError means the NAS could not be reached at the I/O layer.
	ConnectionError ErrorKind = iota + 1
	// ParsingError means the response did not match the expected shape.
	ParsingError
	// InternalError means a protocol or logic invariant was violated.
	InternalError
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionError:
		return "connection_error"
	case ParsingError:
		return "parsing_error"
	case InternalError:
		return "internal_error"
	default:
		return "unknown_error"
	}
}

// Status is the tag of a Result.
type Status int

const (
	Loading Status = iota
	Loaded
	Failed
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "error"
	default:
		return "loading"
	}
}

// Result is the Loading / Loaded(value) / Error(kind) envelope.
// The zero value is Loading.
type Result[T any] struct {
	status Status
	value  T
	kind   ErrorKind
}

// LoadingResult returns the in-flight state.
func LoadingResult[T any]() Result[T] {
	return Result[T]{}
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{status: Loaded, value: v}
}

// Fail wraps an error kind.
func Fail[T any](kind ErrorKind) Result[T] {
	return Result[T]{status: Failed, kind: kind}
}

// FailAs carries the error of r over to a result of another value type.
// It is Loading when r is not an error.
func FailAs[T, U any](r Result[U]) Result[T] {
	if r.status != Failed {
		return Result[T]{}
	}
	return Fail[T](r.kind)
}

func (r Result[T]) Status() Status { return r.status }

func (r Result[T]) IsLoaded() bool { return r.status == Loaded }

func (r Result[T]) IsError() bool { return r.status == Failed }

// Value returns the loaded value and whether there was one.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.status == Loaded
}

// Err returns the error kind and whether the result is an error.
func (r Result[T]) Err() (ErrorKind, bool) {
	return r.kind, r.status == Failed
}

func (r Result[T]) String() string {
	if r.status == Failed {
		return "Error(" + r.kind.String() + ")"
	}
	return r.status.String()
}

type resultJSON[T any] struct {
	State string `json:"state"`
	Value *T     `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON renders the envelope for Socket.IO and HTTP clients.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{State: r.status.String()}
	switch r.status {
	case Loaded:
		v := r.value
		out.Value = &v
	case Failed:
		out.Error = r.kind.String()
	}
	return json.Marshal(out)
}
