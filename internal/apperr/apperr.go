// Package apperr defines the error taxonomy shared by every control-plane
// component. Handlers never invent ad-hoc status codes: they call StatusFor
// once, at the HTTP boundary, on whatever error a component returned.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure, independent of which component
// raised it. The mapping to HTTP status lives in StatusFor and is the single
// place that mapping is defined.
type Kind string

const (
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	InvalidArgument    Kind = "invalid_argument"
	ProjectNotActive   Kind = "project_not_active"
	ReadinessTimeout   Kind = "readiness_timeout"
	CloneFailed        Kind = "clone_failed"
	OrchestratorError  Kind = "orchestrator_error"
	StorageUnavailable Kind = "storage_unavailable"
	UpstreamError      Kind = "upstream_error"
	Cancelled          Kind = "cancelled"
)

// Error wraps an underlying cause with a Kind and a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around cause, preserving it for errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning the empty Kind when err was
// not produced by this package (StatusFor and Code map that to 500 and
// "internal_error").
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// httpStatus is the kind -> HTTP status mapping from the error handling
// design: every handler translates a returned error through StatusFor
// instead of choosing a status code itself.
var httpStatus = map[Kind]int{
	NotFound:           404,
	Conflict:           409,
	InvalidArgument:    400,
	ProjectNotActive:   400,
	ReadinessTimeout:   504,
	CloneFailed:        200,
	OrchestratorError:  502,
	StorageUnavailable: 503,
	UpstreamError:      502,
	Cancelled:          499,
}

// StatusFor returns the HTTP status code for err. Unrecognized errors map to
// 500, matching the teacher's "internal_error" catch-all.
func StatusFor(err error) int {
	if status, ok := httpStatus[KindOf(err)]; ok {
		return status
	}
	return 500
}

// Code returns the machine-readable error code used in the JSON error
// envelope's "error" field (e.g. "not_found", "project_not_active").
func Code(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal_error"
}
