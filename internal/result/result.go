// Package result turns raw engine output into the value handed to callers.
package result

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of a parse or validate call.
type Result struct {
	// Document is the decoded output. It is nil when the caller asked for
	// raw output or the engine produced none.
	Document map[string]any
	// Raw is the output exactly as the engine wrote it.
	Raw string
	// Status is the engine's return code.
	Status int32

	decoded bool
}

// Decoded reports whether Document was populated from Raw.
func (r *Result) Decoded() bool {
	return r.decoded
}

// Value returns Document when the output was decoded and Raw otherwise.
func (r *Result) Value() any {
	if r == nil {
		return nil
	}
	if r.decoded {
		return r.Document
	}
	return r.Raw
}

// DecodeError is returned when engine output is not a JSON object.
type DecodeError struct {
	Output string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode engine output (%d bytes): %v", len(e.Output), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Shape builds the Result for output. When decode is false the raw text is
// returned untouched. An engine that wrote nothing yields an empty Result.
func Shape(status int32, output string, hasOutput, decode bool) (*Result, error) {
	res := &Result{Raw: output, Status: status}
	if !hasOutput || !decode {
		return res, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return nil, &DecodeError{Output: output, Err: err}
	}
	if doc == nil {
		return nil, &DecodeError{Output: output, Err: fmt.Errorf("document is null")}
	}

	res.Document = doc
	res.decoded = true
	return res, nil
}
