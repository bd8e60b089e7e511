// Package enginetest provides an in-process stand-in for the drafter engine.
//
// The guest is a tiny hand-assembled wasm module that owns linear memory and
// exports malloc, free and both generations of the parse/validate entry points.
// Each export forwards to a Go host function on Engine, so tests run the real
// wazero call path while the parsing itself is a toy implemented in Go.
package enginetest

// HostModule is the import module name the guest expects the Engine under.
const HostModule = "drafter_host"

// MemoryPages is the guest's initial linear memory size.
const MemoryPages = 16

const (
	valI32 = 0x7f

	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10

	externFunc   = 0x00
	externMemory = 0x02

	opLocalGet = 0x20
	opCall     = 0x10
	opEnd      = 0x0b
)

type export struct {
	name   string
	params int
	result bool
}

var exports = []export{
	{"malloc", 1, true},
	{"free", 1, false},
	{"c_parse", 4, true},
	{"c_validate", 3, true},
	{"drafter_c_parse", 4, true},
	{"drafter_c_validate", 3, true},
	{"_initialize", 0, false},
}

// Module returns the guest binary with every export.
func Module() []byte {
	return ModuleWithout()
}

// ModuleWithout returns the guest binary minus the named exports.
// The host imports stay in place so the same Engine can be installed.
func ModuleWithout(omit ...string) []byte {
	skip := make(map[string]bool, len(omit))
	for _, name := range omit {
		skip[name] = true
	}

	n := len(exports)
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = appendU32(types, uint32(n))
	for _, e := range exports {
		types = append(types, 0x60)
		types = appendU32(types, uint32(e.params))
		for i := 0; i < e.params; i++ {
			types = append(types, valI32)
		}
		if e.result {
			types = append(types, 0x01, valI32)
		} else {
			types = append(types, 0x00)
		}
	}
	out = appendSection(out, sectionType, types)

	var imports []byte
	imports = appendU32(imports, uint32(n))
	for i, e := range exports {
		imports = appendName(imports, HostModule)
		imports = appendName(imports, e.name)
		imports = append(imports, externFunc)
		imports = appendU32(imports, uint32(i))
	}
	out = appendSection(out, sectionImport, imports)

	var funcs []byte
	funcs = appendU32(funcs, uint32(n))
	for i := range exports {
		funcs = appendU32(funcs, uint32(i))
	}
	out = appendSection(out, sectionFunction, funcs)

	mem := []byte{0x01, 0x00}
	mem = appendU32(mem, MemoryPages)
	out = appendSection(out, sectionMemory, mem)

	var exps []byte
	count := 1
	for _, e := range exports {
		if !skip[e.name] {
			count++
		}
	}
	exps = appendU32(exps, uint32(count))
	exps = appendName(exps, "memory")
	exps = append(exps, externMemory, 0x00)
	for i, e := range exports {
		if skip[e.name] {
			continue
		}
		exps = appendName(exps, e.name)
		exps = append(exps, externFunc)
		exps = appendU32(exps, uint32(n+i))
	}
	out = appendSection(out, sectionExport, exps)

	// Each defined function forwards its params to the matching import, so the
	// host function sees the guest module (and its memory) as the caller.
	var code []byte
	code = appendU32(code, uint32(n))
	for i, e := range exports {
		body := []byte{0x00} // no locals
		for p := 0; p < e.params; p++ {
			body = append(body, opLocalGet)
			body = appendU32(body, uint32(p))
		}
		body = append(body, opCall)
		body = appendU32(body, uint32(i))
		body = append(body, opEnd)

		code = appendU32(code, uint32(len(body)))
		code = append(code, body...)
	}
	out = appendSection(out, sectionCode, code)

	return out
}

func appendSection(dst []byte, id byte, content []byte) []byte {
	dst = append(dst, id)
	dst = appendU32(dst, uint32(len(content)))
	return append(dst, content...)
}

func appendName(dst []byte, name string) []byte {
	dst = appendU32(dst, uint32(len(name)))
	return append(dst, name...)
}

// appendU32 appends v as unsigned LEB128.
func appendU32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}
