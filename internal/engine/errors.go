package engine

import (
	"fmt"
)

// ManifestNotFoundError occurs when the manifest file cannot be read.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when the manifest is not valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when the manifest fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in the manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// LoadError occurs when the engine module cannot be compiled or instantiated.
type LoadError struct {
	Engine string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load engine '%s': %v", e.Engine, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CallError occurs when an engine entry point traps or cannot be called.
// Guest allocations made for the call have already been released.
type CallError struct {
	Export string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("engine call '%s' failed: %v", e.Export, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ClosedError is returned by calls made after Close.
type ClosedError struct {
	Engine string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("engine '%s' is closed", e.Engine)
}
