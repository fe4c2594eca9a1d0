package domain

import (
	"errors"
	"fmt"
	"os"
)

// ParseError reports a malformed input line.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

// UnknownKindError reports a kind token outside the recognized set.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Kind)
}

// FileError reports an attachment that cannot be read from disk.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.NotFound() {
		return fmt.Sprintf("File not found: %s", e.Path)
	}
	return fmt.Sprintf("Invalid file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// NotFound reports whether the file is missing.
func (e *FileError) NotFound() bool { return errors.Is(e.Err, os.ErrNotExist) }

// DeliveryError is a failure reported by the platform for a single send.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *DeliveryError) Unwrap() error { return e.Err }

// AuthError is a failure to establish a session.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// InvalidChatError reports a chat identifier that cannot be parsed or resolved.
type InvalidChatError struct {
	ID  string
	Err error
}

func (e *InvalidChatError) Error() string {
	return fmt.Sprintf("invalid chat ID %q: %v", e.ID, e.Err)
}

func (e *InvalidChatError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a per-line failure that must not stop
// a batch.
func IsRecoverable(err error) bool {
	var (
		pe *ParseError
		ue *UnknownKindError
		fe *FileError
		de *DeliveryError
	)
	return errors.As(err, &pe) || errors.As(err, &ue) || errors.As(err, &fe) || errors.As(err, &de)
}
