// Package wasmtest assembles small Wasm binaries for tests.
//
// Only the parts of the binary format the bridge tests need are covered:
// function types, function imports, one memory, mutable and immutable i32
// globals, exports, one funcref table with active element segments, and
// function bodies built from the instruction helpers in ops.go.
package wasmtest

import (
	"fmt"

	"github.com/jcalabro/leb128"
	"github.com/tetratelabs/wazero/api"
)

// Export kinds.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

const (
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionTable    byte = 4
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionElement  byte = 9
	sectionCode     byte = 10
)

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type importFunc struct {
	module, name string
	typ          uint32
}

type function struct {
	typ    uint32
	locals []api.ValueType
	body   []byte
}

type global struct {
	typ     api.ValueType
	mutable bool
	init    int32
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type elem struct {
	offset int32
	funcs  []uint32
}

// Module accumulates the sections of one module. Imports must be declared
// before the first function, because imported functions take the lowest
// indices.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	globals []global
	exports []export
	elems   []elem

	memory   bool
	memMin   uint32
	memMax   uint32
	hasMax   bool
	tableMin uint32
	hasTable bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []api.ValueType) uint32 {
	for i, t := range m.types {
		if sameTypes(t.params, params) && sameTypes(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Import declares a function import and returns its function index.
func (m *Module) Import(module, name string, params, results []api.ValueType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. body is the instruction
// sequence without the trailing end opcode.
func (m *Module) Func(params, results, locals []api.ValueType, body ...[]byte) uint32 {
	var code []byte
	for _, b := range body {
		code = append(code, b...)
	}
	m.funcs = append(m.funcs, function{typ: m.typeIndex(params, results), locals: locals, body: code})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares the module memory in pages. A zero max means unbounded.
func (m *Module) Memory(min, max uint32) {
	m.memory, m.memMin, m.memMax, m.hasMax = true, min, max, max > 0
}

// Global declares a global initialised to init and returns its index.
func (m *Module) Global(typ api.ValueType, mutable bool, init int32) uint32 {
	m.globals = append(m.globals, global{typ: typ, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// Table declares the funcref table with min entries.
func (m *Module) Table(min uint32) {
	m.hasTable, m.tableMin = true, min
}

// Elem places funcs into the table starting at offset.
func (m *Module) Elem(offset int32, funcs ...uint32) {
	m.elems = append(m.elems, elem{offset: offset, funcs: funcs})
}

// Export exports index of the given kind under name.
func (m *Module) Export(name string, kind byte, index uint32) {
	m.exports = append(m.exports, export{name: name, kind: kind, index: index})
}

// ExportFunc exports a function.
func (m *Module) ExportFunc(name string, index uint32) {
	m.Export(name, KindFunc, index)
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		var s []byte
		s = append(s, u32(len(m.types))...)
		for _, t := range m.types {
			s = append(s, 0x60)
			s = append(s, valueTypes(t.params)...)
			s = append(s, valueTypes(t.results)...)
		}
		out = appendSection(out, sectionType, s)
	}

	if len(m.imports) > 0 {
		var s []byte
		s = append(s, u32(len(m.imports))...)
		for _, im := range m.imports {
			s = append(s, name(im.module)...)
			s = append(s, name(im.name)...)
			s = append(s, KindFunc)
			s = append(s, leb128.EncodeU64(uint64(im.typ))...)
		}
		out = appendSection(out, sectionImport, s)
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = append(s, u32(len(m.funcs))...)
		for _, f := range m.funcs {
			s = append(s, leb128.EncodeU64(uint64(f.typ))...)
		}
		out = appendSection(out, sectionFunction, s)
	}

	if m.hasTable {
		s := []byte{0x01, 0x70, 0x00}
		s = append(s, leb128.EncodeU64(uint64(m.tableMin))...)
		out = appendSection(out, sectionTable, s)
	}

	if m.memory {
		s := []byte{0x01}
		if m.hasMax {
			s = append(s, 0x01)
			s = append(s, leb128.EncodeU64(uint64(m.memMin))...)
			s = append(s, leb128.EncodeU64(uint64(m.memMax))...)
		} else {
			s = append(s, 0x00)
			s = append(s, leb128.EncodeU64(uint64(m.memMin))...)
		}
		out = appendSection(out, sectionMemory, s)
	}

	if len(m.globals) > 0 {
		var s []byte
		s = append(s, u32(len(m.globals))...)
		for _, g := range m.globals {
			s = append(s, g.typ)
			if g.mutable {
				s = append(s, 0x01)
			} else {
				s = append(s, 0x00)
			}
			s = append(s, I32Const(g.init)...)
			s = append(s, opEnd)
		}
		out = appendSection(out, sectionGlobal, s)
	}

	if len(m.exports) > 0 {
		var s []byte
		s = append(s, u32(len(m.exports))...)
		for _, e := range m.exports {
			s = append(s, name(e.name)...)
			s = append(s, e.kind)
			s = append(s, leb128.EncodeU64(uint64(e.index))...)
		}
		out = appendSection(out, sectionExport, s)
	}

	if len(m.elems) > 0 {
		var s []byte
		s = append(s, u32(len(m.elems))...)
		for _, e := range m.elems {
			s = append(s, 0x00)
			s = append(s, I32Const(e.offset)...)
			s = append(s, opEnd)
			s = append(s, u32(len(e.funcs))...)
			for _, f := range e.funcs {
				s = append(s, leb128.EncodeU64(uint64(f))...)
			}
		}
		out = appendSection(out, sectionElement, s)
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = append(s, u32(len(m.funcs))...)
		for _, f := range m.funcs {
			body := locals(f.locals)
			body = append(body, f.body...)
			body = append(body, opEnd)
			s = append(s, u32(len(body))...)
			s = append(s, body...)
		}
		out = appendSection(out, sectionCode, s)
	}

	return out
}

// String summarises the module for test failure messages.
func (m *Module) String() string {
	return fmt.Sprintf("wasmtest.Module{types: %d, imports: %d, funcs: %d, exports: %d}",
		len(m.types), len(m.imports), len(m.funcs), len(m.exports))
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, u32(len(payload))...)
	return append(out, payload...)
}

func u32(n int) []byte {
	return leb128.EncodeU64(uint64(n))
}

func name(s string) []byte {
	return append(u32(len(s)), s...)
}

func valueTypes(types []api.ValueType) []byte {
	out := u32(len(types))
	for _, t := range types {
		out = append(out, t)
	}
	return out
}

// locals groups consecutive locals of the same type.
func locals(types []api.ValueType) []byte {
	type group struct {
		n   int
		typ api.ValueType
	}
	var groups []group
	for _, t := range types {
		if len(groups) > 0 && groups[len(groups)-1].typ == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, typ: t})
	}
	out := u32(len(groups))
	for _, g := range groups {
		out = append(out, u32(g.n)...)
		out = append(out, g.typ)
	}
	return out
}
