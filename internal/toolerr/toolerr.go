// Package toolerr defines the closed error taxonomy every tool call is
// reduced to before it reaches a client.
//
// Backends return whatever errors they like; the router maps them onto
// one of these kinds so clients never need backend-specific handling.
package toolerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is one member of the error taxonomy.
type Kind string

const (
	InvalidArgument         Kind = "InvalidArgument"
	NotFound                Kind = "NotFound"
	InvalidState            Kind = "InvalidState"
	PendingTasksRemain      Kind = "PendingTasksRemain"
	RequestAlreadyCompleted Kind = "RequestAlreadyCompleted"
	UnknownTool             Kind = "UnknownTool"
	BackendUnavailable      Kind = "BackendUnavailable"
	BackendError            Kind = "BackendError"
)

// Error is a typed tool error. Field is set for InvalidArgument,
// TaskIDs for PendingTasksRemain.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	TaskIDs []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: NotFound})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Envelope is the JSON shape of an error returned to clients.
type Envelope struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Field   string   `json:"field,omitempty"`
	TaskIDs []string `json:"taskIds,omitempty"`
}

// Envelope returns the client-facing projection of the error.
func (e *Error) Envelope() Envelope {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return Envelope{Kind: e.Kind, Message: msg, Field: e.Field, TaskIDs: e.TaskIDs}
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invalid reports a malformed or missing argument.
func Invalid(field, format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Pending reports that request completion was attempted with outstanding tasks.
func Pending(requestID string, taskIDs []string) *Error {
	return &Error{
		Kind:    PendingTasksRemain,
		Message: fmt.Sprintf("request %s has tasks not yet approved: %s", requestID, strings.Join(taskIDs, ", ")),
		TaskIDs: taskIDs,
	}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	if te, ok := As(err); ok {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Normalize maps any error onto the taxonomy. Errors already typed pass
// through; deadlines become BackendUnavailable; everything else is a
// BackendError with the message passed through.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := As(err); ok {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: BackendUnavailable, Message: err.Error(), Err: err}
	}
	return &Error{Kind: BackendError, Message: err.Error(), Err: err}
}
