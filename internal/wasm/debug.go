package wasm

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

var float64Type = reflect.TypeOf(float64(0))

// Symbol is a host symbol value.
type Symbol struct {
	Description string
}

// DebugString renders any host value for the guest's Debug formatting.
func DebugString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return `"` + val + `"`
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case float32:
		return formatNumber(float64(val))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return formatNumber(reflect.ValueOf(val).Convert(float64Type).Float())
	case Symbol:
		if val.Description == "" {
			return "Symbol"
		}
		return "Symbol(" + val.Description + ")"
	case *Symbol:
		return DebugString(*val)
	case []byte:
		return "Uint8Array"
	}

	if v == heap.Undefined || v == heap.Null {
		return v.(interface{ String() string }).String()
	}

	if _, ok := v.(dom.Func); ok {
		if named, ok := v.(dom.Named); ok && named.Name() != "" {
			return "Function(" + named.Name() + ")"
		}
		return "Function"
	}

	var domErr *dom.Error
	if err, ok := v.(error); ok {
		if errors.As(err, &domErr) {
			return domErr.Name + ": " + domErr.Message + "\n" + domErr.Stack
		}
		return "Error: " + err.Error() + "\n"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return "Function"
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = DebugString(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return "Map"
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "Object"
		}
		return "Object(" + string(data) + ")"
	}
	if isPlainData(rv) {
		if data, err := json.Marshal(v); err == nil {
			return "Object(" + string(data) + ")"
		}
	}
	return className(rv.Type())
}

// isPlainData reports whether rv is a struct with exported fields and no
// methods, the host counterpart of a plain object literal.
func isPlainData(rv reflect.Value) bool {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	t := rv.Type()
	if t.Kind() != reflect.Struct || reflect.PointerTo(t).NumMethod() > 0 {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

func className(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Object"
	}
	return strings.TrimPrefix(t.Name(), "Headless")
}

// formatNumber renders f the way a JavaScript engine prints numbers.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + string(sign) + exp
}
