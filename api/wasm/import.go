package wasm

// ImportModule is the namespace of every host import.
const ImportModule = "wbg"

// Name prefixes of host imports. Generated bindings carry a 16 hex digit
// hash suffix that changes between builds; the bridge matches imports on the
// name with that suffix removed.
const (
	// BindgenPrefix marks intrinsics such as __wbindgen_string_new. Their
	// names carry no hash.
	BindgenPrefix = "__wbindgen_"

	// BindingPrefix marks generated bindings to host APIs, for example
	// __wbg_document_6cc8d0b87c0a99b9.
	BindingPrefix = "__wbg_"

	// ClosureWrapperPrefix marks closure constructors. The numeric suffix
	// identifies the trampoline shape.
	//
	//	__wbindgen_closure_wrapperN(a, b, unused i32) i32
	ClosureWrapperPrefix = "__wbindgen_closure_wrapper"

	// HashDigits is the length of the hash suffix.
	HashDigits = 16
)
