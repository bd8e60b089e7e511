package enginetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

// FatalMarker makes the fake engine fail with a negative status and no output.
const FatalMarker = "<<engine-fatal>>"

// TrapMarker makes the fake engine trap in the middle of a call.
const TrapMarker = "<<engine-trap>>"

// MissingNameCode is the annotation code reported for a blueprint without a title.
const MissingNameCode = 2

// MissingNameMessage is the annotation text reported for a blueprint without a title.
const MissingNameMessage = "expected API name, e.g. '# <API Name>'"

const heapBase = 1024

// Call records one engine entry point invocation.
type Call struct {
	Func string
	Args []uint32
}

// Engine is the Go half of the fake engine. It keeps a first-fit allocator
// over guest memory and counts every allocation so tests can assert that the
// bridge released everything.
type Engine struct {
	mu sync.Mutex

	next  uint32
	live  map[uint32]uint32 // ptr -> size
	holes map[uint32]uint32 // freed ptr -> size

	mallocs   int
	frees     int
	badFrees  []uint32
	calls     []Call
	initCount int

	failMallocAfter int // -1 disables
}

// New creates an Engine with an empty heap.
func New() *Engine {
	return &Engine{
		next:            heapBase,
		live:            make(map[uint32]uint32),
		holes:           make(map[uint32]uint32),
		failMallocAfter: -1,
	}
}

// Install instantiates the host module the guest imports from.
func (e *Engine) Install(ctx context.Context, rt *wasm.Runtime) error {
	_, err := rt.HostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(e.malloc).Export("malloc").
		NewFunctionBuilder().WithFunc(e.free).Export("free").
		NewFunctionBuilder().WithFunc(e.cParse).Export("c_parse").
		NewFunctionBuilder().WithFunc(e.cValidate).Export("c_validate").
		NewFunctionBuilder().WithFunc(e.drafterCParse).Export("drafter_c_parse").
		NewFunctionBuilder().WithFunc(e.drafterCValidate).Export("drafter_c_validate").
		NewFunctionBuilder().WithFunc(e.initialize).Export("_initialize").
		Instantiate(ctx)
	return err
}

// Live returns the number of allocations not yet freed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Mallocs returns the number of successful allocations.
func (e *Engine) Mallocs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mallocs
}

// Frees returns the number of successful frees.
func (e *Engine) Frees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frees
}

// BadFrees returns pointers passed to free that were not live.
func (e *Engine) BadFrees() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint32(nil), e.badFrees...)
}

// Calls returns every parse/validate invocation so far.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Initialized reports how many times _initialize ran.
func (e *Engine) Initialized() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initCount
}

// FailMallocAfter makes every allocation after the next n return null.
// A negative n restores normal behaviour.
func (e *Engine) FailMallocAfter(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failMallocAfter = n
}

func (e *Engine) initialize(context.Context, api.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initCount++
}

func (e *Engine) malloc(_ context.Context, m api.Module, size uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocLocked(m, size)
}

func (e *Engine) allocLocked(m api.Module, size uint32) uint32 {
	if e.failMallocAfter == 0 {
		return 0
	}
	if e.failMallocAfter > 0 {
		e.failMallocAfter--
	}

	size = (size + 7) &^ 7
	if size == 0 {
		size = 8
	}

	for ptr, hole := range e.holes {
		if hole >= size {
			delete(e.holes, ptr)
			e.live[ptr] = hole
			e.mallocs++
			return ptr
		}
	}

	if e.next+size > m.Memory().Size() {
		return 0
	}
	ptr := e.next
	e.next += size
	e.live[ptr] = size
	e.mallocs++
	return ptr
}

func (e *Engine) free(_ context.Context, _ api.Module, ptr uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ptr == 0 {
		return
	}
	size, ok := e.live[ptr]
	if !ok {
		e.badFrees = append(e.badFrees, ptr)
		return
	}
	delete(e.live, ptr)
	e.holes[ptr] = size
	e.frees++
}

func (e *Engine) cParse(ctx context.Context, m api.Module, src, requireName, sourcemap, out uint32) int32 {
	e.record("c_parse", src, requireName, sourcemap, out)
	return e.parse(m, src, out, requireName != 0, sourcemap != 0, true)
}

func (e *Engine) cValidate(ctx context.Context, m api.Module, src, requireName, out uint32) int32 {
	e.record("c_validate", src, requireName, out)
	return e.validate(m, src, out, requireName != 0)
}

// Bit values match the engine's parser option enum.
const (
	optionRequireName = 1 << 1
	optionSourcemap   = 1 << 2
)

func (e *Engine) drafterCParse(ctx context.Context, m api.Module, src, options, astType, out uint32) int32 {
	e.record("drafter_c_parse", src, options, astType, out)
	return e.parse(m, src, out, options&optionRequireName != 0, options&optionSourcemap != 0, astType == 1)
}

func (e *Engine) drafterCValidate(ctx context.Context, m api.Module, src, options, out uint32) int32 {
	e.record("drafter_c_validate", src, options, out)
	return e.validate(m, src, out, options&optionRequireName != 0)
}

func (e *Engine) record(fn string, args ...uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Func: fn, Args: args})
}

func (e *Engine) parse(m api.Module, src, out uint32, requireName, sourcemap, refract bool) int32 {
	text := readSource(m, src)
	if strings.Contains(text, TrapMarker) {
		panic(errors.New("engine trap"))
	}
	if strings.Contains(text, FatalMarker) {
		return -1
	}

	bp := scan(text)
	var status int32
	if requireName && bp.title == "" {
		status = MissingNameCode
	}

	var doc any
	if refract {
		doc = refractDocument(bp, requireName, sourcemap)
	} else {
		doc = astDocument(bp, requireName)
	}
	if !e.writeOutput(m, out, doc) {
		return -1
	}
	return status
}

func (e *Engine) validate(m api.Module, src, out uint32, requireName bool) int32 {
	text := readSource(m, src)
	if strings.Contains(text, TrapMarker) {
		panic(errors.New("engine trap"))
	}
	if strings.Contains(text, FatalMarker) {
		return -1
	}

	bp := scan(text)
	if !requireName || bp.title != "" {
		return 0
	}

	doc := map[string]any{
		"element": "parseResult",
		"content": []any{missingNameAnnotation()},
	}
	if !e.writeOutput(m, out, doc) {
		return -1
	}
	return 1
}

// writeOutput serialises doc compactly into a fresh guest allocation and
// stores its address in the output slot. Like the real engine it leaves
// <, > and & unescaped.
func (e *Engine) writeOutput(m api.Module, out uint32, doc any) bool {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return false
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	e.mu.Lock()
	ptr := e.allocLocked(m, uint32(len(data)+1))
	e.mu.Unlock()
	if ptr == 0 {
		return false
	}

	mem := m.Memory()
	return mem.Write(ptr, append(data, 0)) && mem.WriteUint32Le(out, ptr)
}

func readSource(m api.Module, ptr uint32) string {
	mem := m.Memory()
	buf, ok := mem.Read(ptr, mem.Size()-ptr)
	if !ok {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
