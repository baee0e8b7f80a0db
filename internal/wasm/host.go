package wasm

import (
	"context"
	"reflect"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wbg "github.com/woxQAQ/wasm-host-bridge/api/wasm"
	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

// CatalogVersion identifies the set of built-in import bindings. It changes
// whenever a binding is added, removed or changes behaviour.
const CatalogVersion = "1.2.0"

const (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

// ImportFunc implements one host import. Parameters are read from and results
// written to stack, in the layout of api.GoModuleFunc.
type ImportFunc func(ctx context.Context, b *Bridge, stack []uint64) error

// ImportBinding is one entry of the import catalogue.
type ImportBinding struct {
	// Name is the stable base name, without prefix or hash suffix.
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	// Fallible imports report errors to the guest as exceptions through
	// exn_store. Errors of other imports abort the guest call.
	Fallible bool
	Fn       ImportFunc
}

func (ib ImportBinding) matches(params, results []api.ValueType) bool {
	return reflect.DeepEqual(normalize(ib.Params), normalize(params)) &&
		reflect.DeepEqual(normalize(ib.Results), normalize(results))
}

func normalize(types []api.ValueType) []api.ValueType {
	if len(types) == 0 {
		return nil
	}
	return types
}

// Catalogue resolves guest imports to host bindings.
type Catalogue struct {
	byName map[string][]ImportBinding
}

// NewCatalogue returns the built-in bindings plus extra. An extra binding
// with the same name and signature as a built-in one replaces it.
func NewCatalogue(extra ...ImportBinding) *Catalogue {
	c := &Catalogue{byName: make(map[string][]ImportBinding)}
	for _, group := range [][]ImportBinding{coreImports, envImports, domImports, inputImports, extra} {
		for _, ib := range group {
			c.add(ib)
		}
	}
	return c
}

func (c *Catalogue) add(ib ImportBinding) {
	variants := c.byName[ib.Name]
	for i, v := range variants {
		if v.matches(ib.Params, ib.Results) {
			variants[i] = ib
			return
		}
	}
	c.byName[ib.Name] = append(variants, ib)
}

// Resolve finds the binding for an import by its full name and signature.
func (c *Catalogue) Resolve(name string, params, results []api.ValueType) (ImportBinding, bool) {
	for _, ib := range c.byName[BaseName(name)] {
		if ib.matches(params, results) {
			return ib, true
		}
	}
	return ImportBinding{}, false
}

// Len returns the number of bindings.
func (c *Catalogue) Len() int {
	n := 0
	for _, v := range c.byName {
		n += len(v)
	}
	return n
}

var hashSuffix = regexp.MustCompile(`_[0-9a-f]{16}$`)

// BaseName strips the binding prefix and the hash suffix from an import name.
// Intrinsic names are returned unchanged.
//
//	__wbg_document_6cc8d0b87c0a99b9 -> document
//	__wbindgen_string_new           -> __wbindgen_string_new
func BaseName(name string) string {
	if strings.HasPrefix(name, wbg.BindgenPrefix) {
		return name
	}
	name = hashSuffix.ReplaceAllString(name, "")
	return strings.TrimPrefix(name, wbg.BindingPrefix)
}

// hostFunc adapts a binding to wazero. Fallible failures are stored as guest
// exceptions and the results zeroed; other failures abort the call.
func (b *Bridge) hostFunc(importName string, ib ImportBinding) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		if b.debug {
			b.logger.Debug("Host import called",
				zap.String("import", importName),
				zap.Int("live_handles", b.heap.Len()),
			)
		}

		err := ib.Fn(ctx, b, stack)
		if err == nil {
			return
		}
		if !ib.Fallible {
			raise(importName, err)
		}
		for i := range ib.Results {
			stack[i] = 0
		}
		if serr := b.storeException(ctx, importName, err); serr != nil {
			raise(importName, serr)
		}
	}
}

// closureWrapper builds the binding for a closure constructor import.
func closureWrapper(name string) ImportBinding {
	return ImportBinding{
		Name:    name,
		Params:  []api.ValueType{i32, i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			c, err := b.newClosure(name, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			if err != nil {
				return err
			}
			stack[0] = b.addObject(c)
			return nil
		},
	}
}

// Helpers shared by the import implementations.

func (b *Bridge) object(v uint64) any {
	return b.heap.Get(api.DecodeU32(v))
}

// addObject returns a handle owned by the guest. Nil and booleans map to
// their reserved slots, which the guest's drops leave untouched.
func (b *Bridge) addObject(v any) uint64 {
	switch val := v.(type) {
	case nil:
		return api.EncodeU32(heap.HandleNull)
	case bool:
		return api.EncodeU32(heap.Bool(val))
	}
	return api.EncodeU32(b.heap.Add(v))
}

// addOptional returns 0 for undefined, null and nil values, the guest's
// encoding of None.
func (b *Bridge) addOptional(v any) uint64 {
	if isNone(v) {
		return 0
	}
	return api.EncodeU32(b.heap.Add(v))
}

func (b *Bridge) str(ptr, n uint64) (string, error) {
	return b.marshal.ReadString(api.DecodeU32(ptr), api.DecodeU32(n))
}

func isNone(v any) bool {
	if heap.IsNone(v) {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func boolResult(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// capability asserts that v implements T, failing like a missing method
// would on the guest side.
func capability[T any](v any, what string) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, dom.TypeError("%s is not a %s", DebugString(v), what)
	}
	return t, nil
}

// property reads a named property through PropertyGetter, yielding
// heap.Undefined when the value has no such property.
func property(v any, name string) any {
	if pg, ok := v.(dom.PropertyGetter); ok {
		if p, ok := pg.Property(name); ok {
			return p
		}
	}
	return heap.Undefined
}

// Builders for the common import shapes. what names the capability in the
// TypeError raised when the receiver lacks it.

// readI32 builds an infallible (obj) -> i32 accessor.
func readI32[T any](name, what string, get func(T) int32) ImportBinding {
	return ImportBinding{
		Name:    name,
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			stack[0] = api.EncodeI32(get(v))
			return nil
		},
	}
}

// readBool builds an infallible (obj) -> i32 boolean accessor.
func readBool[T any](name, what string, get func(T) bool) ImportBinding {
	return readI32(name, what, func(v T) int32 { return int32(boolResult(get(v))) })
}

// readF64 builds an infallible (obj) -> f64 accessor.
func readF64[T any](name, what string, get func(T) float64) ImportBinding {
	return ImportBinding{
		Name:    name,
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{f64},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			stack[0] = api.EncodeF64(get(v))
			return nil
		},
	}
}

// readObject builds an (obj) -> handle accessor. When optional is set a
// missing value is returned as 0.
func readObject[T any](name, what string, optional, fallible bool, get func(T) (any, error)) ImportBinding {
	return ImportBinding{
		Name:     name,
		Params:   []api.ValueType{i32},
		Results:  []api.ValueType{i32},
		Fallible: fallible,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			out, err := get(v)
			if err != nil {
				return err
			}
			if optional {
				stack[0] = b.addOptional(out)
			} else {
				stack[0] = b.addObject(out)
			}
			return nil
		},
	}
}

// action builds an (obj) -> () method call.
func action[T any](name, what string, fallible bool, do func(T) error) ImportBinding {
	return ImportBinding{
		Name:     name,
		Params:   []api.ValueType{i32},
		Fallible: fallible,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			return do(v)
		},
	}
}

// retString builds an (retptr, obj) -> () accessor returning a string
// through the out-param convention.
func retString[T any](name, what string, get func(T) string) ImportBinding {
	return ImportBinding{
		Name:   name,
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[1]), what)
			if err != nil {
				return err
			}
			return b.marshal.WriteRetString(ctx, api.DecodeU32(stack[0]), get(v))
		},
	}
}

// global builds a () -> handle discovery import for one global binding.
func global(name string, get func(dom.Scope) (any, error)) ImportBinding {
	return ImportBinding{
		Name:     name,
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			if b.env.Scope == nil {
				return dom.ReferenceError("%s is not defined", name)
			}
			v, err := get(b.env.Scope)
			if err != nil {
				return err
			}
			stack[0] = b.addObject(v)
			return nil
		},
	}
}
