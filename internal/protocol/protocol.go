// Package protocol maps validated options onto the argument vectors of the
// engine's native entry points.
//
// Two engine generations exist. The positional one passes every option as its
// own 0/1 argument; the bitpacked one folds them into a single flags word and
// adds a discrete output type selector.
package protocol

import (
	"fmt"

	"github.com/woxQAQ/drafter-wasm/internal/options"
)

// Version names an engine calling convention.
type Version string

const (
	Positional Version = "positional"
	Bitpacked  Version = "bitpacked"
)

// Flag bits of the bitpacked options word.
const (
	FlagRenderDescriptions uint32 = 1 << 0
	FlagRequireName        uint32 = 1 << 1
	FlagExportSourcemap    uint32 = 1 << 2
)

// Output type selector values of the bitpacked parse entry point.
const (
	TypeAST     uint32 = 0
	TypeRefract uint32 = 1
)

// Encoder translates an operation and its options into a native call.
type Encoder interface {
	// Version reports the calling convention.
	Version() Version
	// Export returns the entry point name for op.
	Export(op options.Operation) string
	// Check rejects options this engine generation cannot express.
	// It runs before any guest memory is touched.
	Check(op options.Operation, set options.Set) error
	// Args builds the full argument vector: input pointer, encoded options,
	// output slot.
	Args(op options.Operation, input, slot uint32, set options.Set) []uint64
}

// New returns the encoder for v.
func New(v Version) (Encoder, error) {
	switch v {
	case Positional:
		return positional{}, nil
	case Bitpacked, "":
		return bitpacked{}, nil
	default:
		return nil, &UnknownVersionError{Version: v}
	}
}

// Exports lists every entry point an encoder of v calls.
func Exports(v Version) ([]string, error) {
	enc, err := New(v)
	if err != nil {
		return nil, err
	}
	return []string{enc.Export(options.Parse), enc.Export(options.Validate)}, nil
}

// UnknownVersionError is returned for an unrecognised protocol name.
type UnknownVersionError struct {
	Version Version
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown engine protocol '%s', expected '%s' or '%s'", e.Version, Positional, Bitpacked)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

type positional struct{}

func (positional) Version() Version { return Positional }

func (positional) Export(op options.Operation) string {
	if op == options.Validate {
		return "c_validate"
	}
	return "c_parse"
}

func (positional) Check(op options.Operation, set options.Set) error {
	if op == options.Parse && set.Type == options.AST {
		return &options.InvalidOptionError{
			Operation: op,
			Key:       options.KeyType,
			Value:     string(set.Type),
			Allowed:   options.Allowed(op),
			Reason:    "the loaded engine only produces refract output",
		}
	}
	return nil
}

func (positional) Args(op options.Operation, input, slot uint32, set options.Set) []uint64 {
	if op == options.Validate {
		return []uint64{uint64(input), b2u(set.RequireBlueprintName), uint64(slot)}
	}
	return []uint64{uint64(input), b2u(set.RequireBlueprintName), b2u(set.Sourcemap), uint64(slot)}
}

type bitpacked struct{}

func (bitpacked) Version() Version { return Bitpacked }

func (bitpacked) Export(op options.Operation) string {
	if op == options.Validate {
		return "drafter_c_validate"
	}
	return "drafter_c_parse"
}

func (bitpacked) Check(options.Operation, options.Set) error { return nil }

func (bitpacked) Args(op options.Operation, input, slot uint32, set options.Set) []uint64 {
	flags := uint64(Flags(set))
	if op == options.Validate {
		return []uint64{uint64(input), flags, uint64(slot)}
	}
	astType := TypeRefract
	if set.Type == options.AST {
		astType = TypeAST
	}
	return []uint64{uint64(input), flags, uint64(astType), uint64(slot)}
}

// Flags packs set into the bitpacked options word. Only present, true
// options set bits.
func Flags(set options.Set) uint32 {
	var flags uint32
	if set.RequireBlueprintName {
		flags |= FlagRequireName
	}
	if set.Sourcemap {
		flags |= FlagExportSourcemap
	}
	return flags
}
