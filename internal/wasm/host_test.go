package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"__wbg_document_6cc8d0b87c0a99b9":       "document",
		"__wbg_setAttribute_0123456789abcdef":   "setAttribute",
		"__wbg_static_accessor_MODULE_ef3aa2eb": "static_accessor_MODULE_ef3aa2eb",
		"__wbindgen_string_new":                 "__wbindgen_string_new",
		"__wbindgen_closure_wrapper7":           "__wbindgen_closure_wrapper7",
		"__wbg_new_abcdef0123456789":            "new",
		"plain":                                 "plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseName(in), in)
	}
}

func TestCatalogueResolve(t *testing.T) {
	c := NewCatalogue()

	tests := []struct {
		name     string
		params   []api.ValueType
		results  []api.ValueType
		found    bool
		fallible bool
	}{
		{"__wbg_get_0123456789abcdef", []api.ValueType{i32, i32, i32}, []api.ValueType{i32}, true, false},
		{"__wbg_get_fedcba9876543210", []api.ValueType{i32, i32}, []api.ValueType{i32}, true, true},
		{"__wbg_get_fedcba9876543210", []api.ValueType{i32}, []api.ValueType{i32}, false, false},
		{"__wbg_error_0123456789abcdef", []api.ValueType{i32, i32}, nil, true, false},
		{"__wbg_error_0123456789abcdef", []api.ValueType{i32, i32}, []api.ValueType{}, true, false},
		{"__wbg_error_0123456789abcdef", []api.ValueType{i32}, nil, true, false},
		{"__wbindgen_string_new", []api.ValueType{i32, i32}, []api.ValueType{i32}, true, false},
		{"__wbg_document_6cc8d0b87c0a99b9", []api.ValueType{i32}, []api.ValueType{i32}, true, false},
		{"__wbg_missing_0123456789abcdef", []api.ValueType{i32}, nil, false, false},
	}

	for _, tt := range tests {
		ib, ok := c.Resolve(tt.name, tt.params, tt.results)
		if !assert.Equal(t, tt.found, ok, "%s %v->%v", tt.name, tt.params, tt.results) || !ok {
			continue
		}
		assert.Equal(t, BaseName(tt.name), ib.Name)
		assert.Equal(t, tt.fallible, ib.Fallible, tt.name)
		assert.NotNil(t, ib.Fn)
	}
}

func TestCatalogueExtraBindings(t *testing.T) {
	base := NewCatalogue()

	replaced := ImportBinding{
		Name:     "document",
		Params:   []api.ValueType{i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(context.Context, *Bridge, []uint64) error {
			return nil
		},
	}
	added := ImportBinding{
		Name:   "vibrate",
		Params: []api.ValueType{i32, i32},
		Fn: func(context.Context, *Bridge, []uint64) error {
			return nil
		},
	}
	c := NewCatalogue(replaced, added)
	assert.Equal(t, base.Len()+1, c.Len(), "a matching extra replaces the built-in binding")

	ib, ok := c.Resolve("__wbg_document_0000000000000000", []api.ValueType{i32}, []api.ValueType{i32})
	require.True(t, ok)
	assert.True(t, ib.Fallible, "the extra binding is used")

	_, ok = c.Resolve("__wbg_vibrate_0000000000000000", []api.ValueType{i32, i32}, nil)
	assert.True(t, ok)
}

func TestClosureWrapperBinding(t *testing.T) {
	ib := closureWrapper("__wbindgen_closure_wrapper7")
	assert.Equal(t, "__wbindgen_closure_wrapper7", ib.Name)
	assert.True(t, ib.matches([]api.ValueType{i32, i32, i32}, []api.ValueType{i32}))
	assert.False(t, ib.matches([]api.ValueType{i32, i32}, []api.ValueType{i32}))
	assert.False(t, ib.Fallible)
}

func TestIsNone(t *testing.T) {
	var nilElement *dom.HeadlessElement
	var nilMap map[string]any

	assert.True(t, isNone(nil))
	assert.True(t, isNone(heap.Undefined))
	assert.True(t, isNone(heap.Null))
	assert.True(t, isNone(nilElement))
	assert.True(t, isNone(nilMap))
	assert.False(t, isNone(0.0))
	assert.False(t, isNone(""))
	assert.False(t, isNone(false))
}

func TestCapability(t *testing.T) {
	_, err := capability[dom.Element](3.5, "Element")
	var domErr *dom.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "TypeError", domErr.Name)
	assert.Equal(t, "3.5 is not a Element", domErr.Message)

	fn := dom.FuncOf(func(context.Context, ...any) (any, error) { return "ok", nil })
	got, err := capability[dom.Func](fn, "function")
	require.NoError(t, err)
	out, err := got.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestBoolResult(t *testing.T) {
	assert.Equal(t, uint64(1), boolResult(true))
	assert.Equal(t, uint64(0), boolResult(false))
}

func TestAddObject(t *testing.T) {
	b := &Bridge{heap: heap.NewTable()}

	assert.Equal(t, uint64(heap.HandleNull), b.addObject(nil))
	assert.Equal(t, uint64(heap.HandleTrue), b.addObject(true))
	assert.Equal(t, uint64(heap.HandleFalse), b.addObject(false))
	assert.Zero(t, b.heap.Len(), "reserved values take no slot")

	h := api.DecodeU32(b.addObject("text"))
	assert.GreaterOrEqual(t, h, heap.ReservedSlots)
	assert.Equal(t, "text", b.object(uint64(h)))
	assert.Equal(t, 1, b.heap.Len())
}
