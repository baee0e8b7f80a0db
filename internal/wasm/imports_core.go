package wasm

import (
	"context"
	"math"
	"reflect"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

// Structural lifecycle: strings, handles, closures, errors and reflection.
var coreImports = []ImportBinding{
	{
		Name:    "__wbindgen_string_new",
		Params:  []api.ValueType{i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			s, err := b.str(stack[0], stack[1])
			if err != nil {
				return err
			}
			stack[0] = b.addObject(s)
			return nil
		},
	},
	{
		Name:   "__wbindgen_object_drop_ref",
		Params: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			b.heap.Drop(api.DecodeU32(stack[0]))
			return nil
		},
	},
	{
		Name:    "__wbindgen_object_clone_ref",
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			stack[0] = b.addObject(b.object(stack[0]))
			return nil
		},
	},
	{
		Name:    "__wbindgen_cb_drop",
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			c, err := capability[*Closure](b.heap.Take(api.DecodeU32(stack[0])), "closure")
			if err != nil {
				return err
			}
			stack[0] = boolResult(c.Release())
			return nil
		},
	},
	{
		Name:    "__wbindgen_is_undefined",
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			stack[0] = boolResult(b.object(stack[0]) == heap.Undefined)
			return nil
		},
	},
	{
		Name:   "__wbindgen_number_get",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			n, ok := numberValue(b.object(stack[1]))
			return b.marshal.WriteOptionF64(api.DecodeU32(stack[0]), n, ok)
		},
	},
	{
		Name:   "__wbindgen_debug_string",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			return b.marshal.WriteRetString(ctx, api.DecodeU32(stack[0]), DebugString(b.object(stack[1])))
		},
	},
	{
		Name:   "__wbindgen_throw",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			msg, err := b.str(stack[0], stack[1])
			if err != nil {
				return err
			}
			return &ThrownError{Message: msg}
		},
	},
	{
		Name:    "is",
		Params:  []api.ValueType{i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			stack[0] = boolResult(sameValue(b.object(stack[0]), b.object(stack[1])))
			return nil
		},
	},
	{
		// new Error()
		Name:    "new",
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			stack[0] = b.addObject(&HostError{Name: "Error", Stack: "Error\n    at new Error"})
			return nil
		},
	},
	{
		Name:   "stack",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			e, err := capability[*HostError](b.object(stack[1]), "Error")
			if err != nil {
				return err
			}
			return b.marshal.WriteRetString(ctx, api.DecodeU32(stack[0]), e.Stack)
		},
	},
	{
		// console.error of a guest string, which the host then frees.
		Name:   "error",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
			msg, err := b.marshal.ReadString(ptr, n)
			if err == nil && b.env.Console != nil {
				b.env.Console.Error(msg)
			}
			if ferr := b.marshal.Free(ctx, ptr, n); ferr != nil && err == nil {
				err = ferr
			}
			return err
		},
	},
	{
		// obj[name]
		Name:    "get",
		Params:  []api.ValueType{i32, i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			name, err := b.str(stack[1], stack[2])
			if err != nil {
				return err
			}
			stack[0] = b.addOptional(property(b.object(stack[0]), name))
			return nil
		},
	},
	{
		// Reflect.get(target, key)
		Name:     "get",
		Params:   []api.ValueType{i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			target := b.object(stack[0])
			if isNone(target) {
				return dom.TypeError("Reflect.get called on non-object")
			}
			key, ok := b.object(stack[1]).(string)
			if !ok {
				stack[0] = b.addObject(heap.Undefined)
				return nil
			}
			stack[0] = b.addObject(property(target, key))
			return nil
		},
	},
	{
		// fn.call(thisArg)
		Name:     "call",
		Params:   []api.ValueType{i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			fn, err := capability[dom.Func](b.object(stack[0]), "function")
			if err != nil {
				return err
			}
			ret, err := fn.Invoke(ctx)
			if err != nil {
				return err
			}
			if ret == nil {
				ret = heap.Undefined
			}
			stack[0] = b.addObject(ret)
			return nil
		},
	},
	{
		// new Function(body)
		Name:    "newnoargs",
		Params:  []api.ValueType{i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			body, err := b.str(stack[0], stack[1])
			if err != nil {
				return err
			}
			if b.env.Scope == nil {
				return dom.NotSupportedError("no global scope")
			}
			stack[0] = b.addObject(b.env.Scope.NewFunction(body))
			return nil
		},
	},
}

// numberValue reports v as a number when the guest would see one. Booleans
// are not numbers.
func numberValue(v any) (float64, bool) {
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	return toFloat(v)
}

// sameValue implements Object.is for host values.
func sameValue(x, y any) bool {
	xf, xNum := numberValue(x)
	yf, yNum := numberValue(y)
	if xNum || yNum {
		if !xNum || !yNum {
			return false
		}
		if math.IsNaN(xf) && math.IsNaN(yf) {
			return true
		}
		return xf == yf && math.Signbit(xf) == math.Signbit(yf)
	}
	if x == nil || y == nil {
		return x == y
	}
	tx, ty := reflect.TypeOf(x), reflect.TypeOf(y)
	if tx != ty || !tx.Comparable() {
		if tx == ty && (tx.Kind() == reflect.Slice || tx.Kind() == reflect.Map || tx.Kind() == reflect.Func) {
			return reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer()
		}
		return false
	}
	return x == y
}
