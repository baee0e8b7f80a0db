package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
)

// Environment discovery, randomness, the clock and the console.
var envImports = []ImportBinding{
	global("self", dom.Scope.Self),
	global("window", dom.Scope.Window),
	global("globalThis", dom.Scope.GlobalThis),
	global("global", dom.Scope.Global),
	{
		Name:    "static_accessor_MODULE",
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			if b.env.Scope == nil {
				stack[0] = b.addObject(nil)
				return nil
			}
			stack[0] = b.addObject(b.env.Scope.Module())
			return nil
		},
	},
	{
		Name:    "require",
		Params:  []api.ValueType{i32, i32, i32},
		Results: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			r, err := capability[dom.Requirer](b.object(stack[0]), "module")
			if err != nil {
				return err
			}
			name, err := b.str(stack[1], stack[2])
			if err != nil {
				return err
			}
			mod, err := r.Require(name)
			if err != nil {
				return err
			}
			stack[0] = b.addObject(mod)
			return nil
		},
	},
	readBool("instanceof_Window", "value", func(v any) bool {
		_, ok := v.(dom.Window)
		return ok
	}),
	readBool("instanceof_HtmlCanvasElement", "value", func(v any) bool {
		_, ok := v.(dom.Canvas)
		return ok
	}),
	readObject("crypto", "value", false, false, func(v any) (any, error) {
		return property(v, "crypto"), nil
	}),
	readObject("msCrypto", "value", false, false, func(v any) (any, error) {
		return property(v, "msCrypto"), nil
	}),
	readObject("getRandomValues", "value", false, false, func(v any) (any, error) {
		return property(v, "getRandomValues"), nil
	}),
	{
		// crypto.getRandomValues(view)
		Name:   "getRandomValues",
		Params: []api.ValueType{i32, i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			c, err := capability[dom.Crypto](b.object(stack[0]), "Crypto")
			if err != nil {
				return err
			}
			buf, err := b.marshal.View(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			if err != nil {
				return err
			}
			return c.GetRandomValues(buf)
		},
	},
	{
		// crypto.randomFillSync(view)
		Name:   "randomFillSync",
		Params: []api.ValueType{i32, i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			c, err := capability[dom.NodeCrypto](b.object(stack[0]), "node crypto module")
			if err != nil {
				return err
			}
			buf, err := b.marshal.View(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			if err != nil {
				return err
			}
			return c.RandomFillSync(buf)
		},
	},
	readF64("now", "Performance", dom.Performance.Now),
	consoleImport("debug", dom.Console.Debug),
	consoleImport("error", dom.Console.Error),
	consoleImport("info", dom.Console.Info),
	consoleImport("log", dom.Console.Log),
	consoleImport("warn", dom.Console.Warn),
}

// consoleImport builds a console method taking one object handle.
func consoleImport(name string, log func(dom.Console, any)) ImportBinding {
	return ImportBinding{
		Name:   name,
		Params: []api.ValueType{i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			if b.env.Console != nil {
				log(b.env.Console, b.object(stack[0]))
			}
			return nil
		},
	}
}
