package wasmtest

import (
	"github.com/tetratelabs/wazero/api"

	wbg "github.com/woxQAQ/wasm-host-bridge/api/wasm"
)

var (
	i32 = api.ValueTypeI32

	none []api.ValueType
)

// Import is a host function the guest declares.
type Import struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Exported globals of a Guest.
const (
	GlobalExn    = "exn"
	GlobalStarts = "starts"
	GlobalFrees  = "frees"
)

// Guest is a module that follows the export contract of a bindgen module:
// exported memory, a bump allocator behind malloc and realloc, free,
// exn_store and start. The handle passed to exn_store and the number of
// start and free calls are kept in exported globals.
type Guest struct {
	*Module

	// Funcs maps import names to function indices.
	Funcs map[string]uint32

	Malloc uint32
	Top    uint32
	Exn    uint32
}

// NewGuest declares imports from the wbg namespace and the standard exports.
// start runs extra after counting the call.
func NewGuest(imports []Import, start ...[]byte) *Guest {
	m := New()
	g := &Guest{Module: m, Funcs: make(map[string]uint32, len(imports))}
	for _, im := range imports {
		g.Funcs[im.Name] = m.Import(wbg.ImportModule, im.Name, im.Params, im.Results)
	}

	m.Memory(1, 0)
	m.Export(wbg.ExportMemory, KindMemory, 0)

	g.Top = m.Global(i32, true, 1024)
	g.Exn = m.Global(i32, true, 0)
	starts := m.Global(i32, true, 0)
	frees := m.Global(i32, true, 0)
	m.Export(GlobalExn, KindGlobal, g.Exn)
	m.Export(GlobalStarts, KindGlobal, starts)
	m.Export(GlobalFrees, KindGlobal, frees)

	// malloc(len) bumps the top and grows memory to cover it.
	g.Malloc = m.Func([]api.ValueType{i32}, []api.ValueType{i32}, []api.ValueType{i32, i32},
		GlobalGet(g.Top), LocalSet(1),
		GlobalGet(g.Top), LocalGet(0), I32Add(), GlobalSet(g.Top),
		GlobalGet(g.Top), I32Const(65535), I32Add(), I32Const(16), I32ShrU(),
		MemorySize(), I32Sub(), LocalTee(2),
		I32Const(0), I32GtS(), If(),
		LocalGet(2), MemoryGrow(), Drop(),
		End(),
		LocalGet(1),
	)
	m.ExportFunc(wbg.ExportMalloc, g.Malloc)

	// realloc(ptr, old, new) always moves.
	realloc := m.Func([]api.ValueType{i32, i32, i32}, []api.ValueType{i32}, []api.ValueType{i32},
		LocalGet(2), Call(g.Malloc), LocalSet(3),
		LocalGet(3), LocalGet(0), LocalGet(1), MemoryCopy(),
		LocalGet(3),
	)
	m.ExportFunc(wbg.ExportRealloc, realloc)

	free := m.Func([]api.ValueType{i32, i32}, none, none,
		GlobalGet(frees), I32Const(1), I32Add(), GlobalSet(frees),
	)
	m.ExportFunc(wbg.ExportFree, free)

	exnStore := m.Func([]api.ValueType{i32}, none, none,
		LocalGet(0), GlobalSet(g.Exn),
	)
	m.ExportFunc(wbg.ExportExnStore, exnStore)

	body := [][]byte{GlobalGet(starts), I32Const(1), I32Add(), GlobalSet(starts)}
	body = append(body, start...)
	m.ExportFunc(wbg.ExportStart, m.Func(none, none, none, body...))

	grow := m.Func([]api.ValueType{i32}, []api.ValueType{i32}, none,
		LocalGet(0), MemoryGrow(),
	)
	m.ExportFunc("grow", grow)

	return g
}

// Forward defines an export that passes its parameters straight to the named
// import and returns its results.
func (g *Guest) Forward(export, importName string, params, results []api.ValueType) uint32 {
	var body [][]byte
	for i := range params {
		body = append(body, LocalGet(uint32(i)))
	}
	body = append(body, Call(g.Funcs[importName]))
	fn := g.Func(params, results, none, body...)
	g.ExportFunc(export, fn)
	return fn
}
