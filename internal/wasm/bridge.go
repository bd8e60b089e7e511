package wasm

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Request carries the guest handles of one encoded call.
type Request struct {
	// Input points at the NUL-terminated UTF-8 source text.
	Input uint32
	// InputSize is the allocated size of the input buffer.
	InputSize uint32
	// Slot points at a pointer-sized cell the engine writes its output pointer into.
	Slot uint32
}

// Response is what the engine left behind after a call.
type Response struct {
	// Status is the engine's return code.
	Status int32
	// Output is the decoded output string.
	Output string
	// HasOutput is false when the engine left the output slot null.
	HasOutput bool
}

// NativeCall invokes an engine entry point with the handles of req.
type NativeCall func(ctx context.Context, req Request) (int32, error)

// Bridge marshals host strings into guest memory and engine output back out.
type Bridge struct {
	mem    *Memory
	logger *zap.Logger
}

// NewBridge creates a bridge over mem.
func NewBridge(mem *Memory, logger *zap.Logger) *Bridge {
	return &Bridge{
		mem:    mem,
		logger: logger.With(zap.String("component", "wasm-bridge")),
	}
}

// WithEncodedRequest allocates the output slot and the input buffer, encodes
// text, runs call, and decodes the string the engine pointed the slot at.
//
// The input buffer, the engine's output string and the slot are released in
// that order on every return path, including allocation, write, call and
// decode failures and panics. Release failures are joined onto err.
func (b *Bridge) WithEncodedRequest(ctx context.Context, text string, call NativeCall) (resp Response, err error) {
	slot, err := b.mem.Alloc(ctx, PointerSize)
	if err != nil {
		return resp, err
	}

	var input, output uint32
	defer func() {
		releaseErr := errors.Join(
			b.release(ctx, "input", input),
			b.release(ctx, "output", output),
			b.release(ctx, "slot", slot),
		)
		if releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	// A null slot after the call means the engine produced no output.
	if err = b.mem.WritePointer(slot, 0); err != nil {
		return resp, err
	}

	size := CStringSize(text)
	if input, err = b.mem.Alloc(ctx, size); err != nil {
		return resp, err
	}
	if err = b.mem.WriteCString(input, size, text); err != nil {
		return resp, err
	}

	status, callErr := call(ctx, Request{Input: input, InputSize: size, Slot: slot})

	// Collect the output pointer even when the call failed so it is still freed.
	if ptr, readErr := b.mem.ReadPointer(slot); readErr == nil {
		output = ptr
	} else if callErr == nil {
		return resp, readErr
	}

	if callErr != nil {
		return resp, callErr
	}

	resp.Status = status
	if output != 0 {
		if resp.Output, err = b.mem.ReadCString(output); err != nil {
			return resp, err
		}
		resp.HasOutput = true
	}

	b.logger.Debug("Engine call completed",
		zap.Int32("status", status),
		zap.Uint32("input_bytes", size),
		zap.Int("output_bytes", len(resp.Output)),
	)

	return resp, nil
}

func (b *Bridge) release(ctx context.Context, what string, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if err := b.mem.Free(ctx, ptr); err != nil {
		b.logger.Warn("Failed to release guest allocation",
			zap.String("allocation", what),
			zap.Uint32("ptr", ptr),
			zap.Error(err),
		)
		return err
	}
	return nil
}
