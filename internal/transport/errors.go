package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks an envelope that is not valid JSON or lacks a required field.
	ErrFormat = errors.New("update malformed")
	// ErrUnknownType marks an envelope naming a type that was never registered.
	ErrUnknownType = errors.New("unknown model type")
	// ErrNotBound is returned when no model is bound for a session identity.
	ErrNotBound = errors.New("no model bound for client")
	// ErrReadOnly is returned when a read-only client pushes an update.
	ErrReadOnly = errors.New("client is read-only")
)

// FormatError reports a malformed envelope.
type FormatError struct {
	// Field is the missing envelope field, empty when the payload itself is bad.
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("update data has no `%s`", e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("update malformed: %v", e.Err)
	}
	return ErrFormat.Error()
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// UnknownTypeError reports an envelope whose model_type is not registered.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("class type (%s) not known, did you forget to call Hosts?", e.Name)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}
