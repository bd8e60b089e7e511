package drafter

import (
	"fmt"

	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/result"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

type (
	// InvalidOptionError reports an unknown option key or an unusable value.
	InvalidOptionError = options.InvalidOptionError
	// DecodeError reports engine output that is not a JSON document.
	DecodeError = result.DecodeError
	// MemoryAccessError reports an out-of-bounds or failed guest memory access.
	MemoryAccessError = wasm.MemoryAccessError
	// AllocationError reports that the engine's allocator returned null.
	AllocationError = wasm.AllocationError
)

// ArgumentError reports a call whose arguments have the wrong number or type.
// It is always returned synchronously.
type ArgumentError struct {
	Method  string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// NotReadyError is returned while the engine has not finished loading.
type NotReadyError struct {
	Operation Operation
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: module not ready", e.Operation)
}

// EngineError reports a fatal engine failure: a negative status or a trap.
// No result is available.
type EngineError struct {
	Operation Operation
	Status    int32
	Err       error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: engine failure: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: unknown engine error (status %d)", e.Operation, e.Status)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ContentError is returned when parse completes but the blueprint has
// errors. Result carries the document describing them.
type ContentError struct {
	Operation Operation
	Status    int32
	Result    *Result
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("error parsing blueprint (status %d)", e.Status)
}

// AlreadyLoadedError is returned by a second Load on the same Drafter.
type AlreadyLoadedError struct{}

func (e *AlreadyLoadedError) Error() string {
	return "engine already loaded"
}
