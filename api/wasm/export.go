// Package wasm describes the contract between the bridge and a guest module:
// the exports the bridge binds after instantiation and the import namespace
// it serves.
//
// All pointers and lengths are i32 because Wasm linear memory is 32-bit.
package wasm

// Exports every guest module must provide.
const (
	// ExportMemory is the guest linear memory.
	ExportMemory = "memory"

	// ExportMalloc allocates len bytes and returns a pointer.
	//
	//	__wbindgen_malloc(len i32) i32
	ExportMalloc = "__wbindgen_malloc"

	// ExportRealloc grows an allocation and returns the (possibly moved) pointer.
	//
	//	__wbindgen_realloc(ptr, old, new i32) i32
	ExportRealloc = "__wbindgen_realloc"

	// ExportFree releases an allocation.
	//
	//	__wbindgen_free(ptr, len i32)
	ExportFree = "__wbindgen_free"

	// ExportExnStore records a host exception handle for the guest to pick up
	// after a fallible import returns.
	//
	//	__wbindgen_exn_store(handle i32)
	ExportExnStore = "__wbindgen_exn_store"

	// ExportStart is the module entry point, invoked exactly once after
	// instantiation.
	//
	//	__wbindgen_start()
	ExportStart = "__wbindgen_start"
)

// FunctionTable is the index of the function table that holds closure
// destructors.
const FunctionTable = 0
