package channel

import (
	"errors"
	"fmt"
)

// Error kinds exposed to callers (spec.md §7).
var (
	// ErrNotImplemented is returned when a command is invoked on an
	// unknown channel, or an unknown command/event name on a known one.
	ErrNotImplemented = errors.New("channel: not implemented")
	// ErrCancelled is returned to a caller that cancelled its own call,
	// or whose subscription was torn down.
	ErrCancelled = errors.New("channel: cancelled")
	// ErrDisposed is returned for a call made after the local engine
	// has been disposed.
	ErrDisposed = errors.New("channel: disposed")
)

// RemoteError is a structured rejection from the far side of a call:
// a command that failed with something recognizable as an error,
// carrying message, name, and an optional stack trace.
type RemoteError struct {
	Message string
	Name    string
	Stack   []string
}

func (e *RemoteError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// RemoteValueError is a rejection carrying an arbitrary non-error value
// rather than a structured error. Value is whatever wire.Body.ToAny
// produced.
type RemoteValueError struct {
	Value any
}

func (e *RemoteValueError) Error() string {
	return fmt.Sprintf("channel: remote rejected with non-error value: %v", e.Value)
}
