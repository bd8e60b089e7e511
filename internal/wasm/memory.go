package wasm

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// PointerSize is the width of a guest pointer in wasm32 linear memory.
const PointerSize = 4

// Memory provides safe memory operations for guest module interaction.
//
// Guest memory is not managed by the Go garbage collector: every pointer
// returned by Alloc or written by the guest into an output slot must be handed
// back to Free. Reads and writes are bounds-checked by wazero and reported as
// MemoryAccessError instead of panicking.
type Memory struct {
	mem    api.Memory
	malloc api.Function
	free   api.Function
}

// NewMemory creates a memory helper backed by the guest's malloc and free exports.
func NewMemory(module api.Module, malloc, free api.Function) *Memory {
	return &Memory{
		mem:    module.Memory(),
		malloc: malloc,
		free:   free,
	}
}

// Alloc reserves size bytes in guest memory.
func (m *Memory) Alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := m.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, &AllocationError{Size: size, Err: err}
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, &AllocationError{Size: size}
	}
	return ptr, nil
}

// Free releases a guest allocation. Freeing the null pointer is a no-op.
func (m *Memory) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if _, err := m.free.Call(ctx, uint64(ptr)); err != nil {
		return &MemoryAccessError{Operation: "free", Address: ptr, Err: err}
	}
	return nil
}

// CStringSize returns the worst-case buffer size for s encoded as a
// NUL-terminated UTF-8 string: four bytes per code point plus the terminator.
func CStringSize(s string) uint32 {
	return uint32(4*utf8.RuneCountInString(s) + 1)
}

// WriteCString encodes s as UTF-8 into the buffer at ptr, which must hold size
// bytes, and terminates it with NUL. Invalid UTF-8 is replaced with U+FFFD.
func (m *Memory) WriteCString(ptr, size uint32, s string) error {
	encoded := strings.ToValidUTF8(s, string(utf8.RuneError))
	if uint32(len(encoded))+1 > size {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(encoded)) + 1}
	}

	buf := make([]byte, len(encoded)+1)
	copy(buf, encoded)
	if !m.mem.Write(ptr, buf) {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(buf))}
	}
	return nil
}

// ReadPointer reads a guest pointer stored at addr.
func (m *Memory) ReadPointer(addr uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(addr)
	if !ok {
		return 0, &MemoryAccessError{Operation: "read", Address: addr, Length: PointerSize}
	}
	return v, nil
}

// WritePointer stores a guest pointer at addr.
func (m *Memory) WritePointer(addr, value uint32) error {
	if !m.mem.WriteUint32Le(addr, value) {
		return &MemoryAccessError{Operation: "write", Address: addr, Length: PointerSize}
	}
	return nil
}

// ReadCString reads a NUL-terminated string starting at ptr.
// The string may extend to the end of linear memory but must be terminated.
func (m *Memory) ReadCString(ptr uint32) (string, error) {
	size := m.mem.Size()
	if ptr >= size {
		return "", &MemoryAccessError{Operation: "read", Address: ptr}
	}

	buf, ok := m.mem.Read(ptr, size-ptr)
	if !ok {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: size - ptr}
	}

	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: size - ptr, Err: errUnterminated}
	}

	// Copy out; buf aliases guest memory that is about to be freed.
	return string(buf[:end]), nil
}
