package wasm

import (
	"context"
	"fmt"
	"time"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// CompilationError reports an engine module that wazero could not compile
// or that lacks an export the host calls.
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("cannot compile engine module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError reports an engine instance that failed to start,
// including a trap in _initialize.
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("cannot start engine instance %s of '%s': %v",
		e.InstanceID, e.ModuleName, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError is returned when an instance is requested for an engine
// that was never compiled.
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("engine module '%s' is not compiled", e.ModuleName)
}

// FunctionNotFoundError names an engine export the module does not provide.
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("engine module '%s' does not export '%s'",
		e.ModuleName, e.FunctionName)
}

// MemoryAccessError reports a token or weights buffer that could not be
// placed in or read from engine memory.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("engine buffer %s failed at %d (len %d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// GuestError reports a non-zero last_error code after an engine call.
type GuestError struct {
	Function string
	Code     wasmapi.Code
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("engine call '%s' failed: %s (code %d)", e.Function, e.Code, uint32(e.Code))
}

// TimeoutError reports an engine call that ran past the call timeout. The
// instance is closed by the runtime and must be discarded.
type TimeoutError struct {
	Function string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine call '%s' timed out after %v", e.Function, e.Duration)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
