package engine

import (
	"errors"
	"fmt"
)

// ErrTokenOutOfRange is returned when an input token is not in the vocabulary.
var ErrTokenOutOfRange = errors.New("token out of range")

// LayoutError occurs when decoded weights do not form a model this engine
// can run.
type LayoutError struct {
	Tensor  string
	Message string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("incompatible model layout (tensor %q): %s", e.Tensor, e.Message)
}

// TokenError reports the offending input position.
type TokenError struct {
	Position int
	Token    uint32
	Vocab    int
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("input token %d at position %d is outside vocabulary of %d", e.Token, e.Position, e.Vocab)
}

func (e *TokenError) Unwrap() error {
	return ErrTokenOutOfRange
}
