package model

import (
	"errors"
	"fmt"
)

// Load error kinds. A *LoadError unwraps to exactly one of them.
var (
	ErrEmpty             = errors.New("model buffer is empty")
	ErrMalformedHeader   = errors.New("malformed header")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// LoadError occurs when a model buffer cannot be decoded.
type LoadError struct {
	// Kind is one of ErrEmpty, ErrMalformedHeader, ErrUnsupportedFormat.
	Kind error

	// Offset of the offending field in the buffer.
	Offset int

	Message string
}

func (e *LoadError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Kind, e.Offset, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Kind
}

func malformed(offset int, format string, args ...any) error {
	return &LoadError{Kind: ErrMalformedHeader, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

func unsupported(offset int, format string, args ...any) error {
	return &LoadError{Kind: ErrUnsupportedFormat, Offset: offset, Message: fmt.Sprintf(format, args...)}
}
