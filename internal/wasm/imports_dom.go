package wasm

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
)

// DOM tree, canvas, viewport and timers.
var domImports = []ImportBinding{
	readObject("document", "Window", true, false, func(w dom.Window) (any, error) {
		return w.Document(), nil
	}),
	readObject("body", "Document", true, false, func(d dom.Document) (any, error) {
		return d.Body(), nil
	}),
	readObject("fullscreenElement", "Document", true, false, func(d dom.Document) (any, error) {
		return d.FullscreenElement(), nil
	}),
	withString("createElement", "Document", false, func(d dom.Document, tag string) (any, error) {
		return d.CreateElement(tag)
	}),
	withString("querySelector", "Document", true, func(d dom.Document, sel string) (any, error) {
		return d.QuerySelector(sel)
	}),
	readObject("style", "Element", false, false, func(e dom.Element) (any, error) {
		return e.Style(), nil
	}),
	withTwoStrings("setProperty", "CSSStyleDeclaration", dom.Style.SetProperty),
	withTwoStrings("setAttribute", "Element", dom.Element.SetAttribute),
	action("remove", "Element", false, func(e dom.Element) error {
		e.Remove()
		return nil
	}),
	action("requestFullscreen", "Element", true, dom.Element.RequestFullscreen),
	{
		Name:     "appendChild",
		Params:   []api.ValueType{i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			parent, err := capability[dom.Node](b.object(stack[0]), "Node")
			if err != nil {
				return err
			}
			child, err := capability[dom.Node](b.object(stack[1]), "Node")
			if err != nil {
				return err
			}
			out, err := parent.AppendChild(child)
			if err != nil {
				return err
			}
			stack[0] = b.addObject(out)
			return nil
		},
	},
	{
		Name:     "addEventListener",
		Params:   []api.ValueType{i32, i32, i32, i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			target, err := capability[dom.EventTarget](b.object(stack[0]), "EventTarget")
			if err != nil {
				return err
			}
			typ, err := b.str(stack[1], stack[2])
			if err != nil {
				return err
			}
			listener, err := capability[dom.Func](b.object(stack[3]), "function")
			if err != nil {
				return err
			}
			return target.AddEventListener(typ, listener)
		},
	},
	readI32("width", "HTMLCanvasElement", func(c dom.Canvas) int32 { return int32(c.Width()) }),
	readI32("height", "HTMLCanvasElement", func(c dom.Canvas) int32 { return int32(c.Height()) }),
	withU32("setwidth", "HTMLCanvasElement", dom.Canvas.SetWidth),
	withU32("setheight", "HTMLCanvasElement", dom.Canvas.SetHeight),

	readObject("innerWidth", "Window", false, true, func(w dom.Window) (any, error) {
		return w.InnerWidth()
	}),
	readObject("innerHeight", "Window", false, true, func(w dom.Window) (any, error) {
		return w.InnerHeight()
	}),
	readF64("devicePixelRatio", "Window", dom.Window.DevicePixelRatio),
	withString("matchMedia", "Window", true, func(w dom.Window, query string) (any, error) {
		return w.MatchMedia(query)
	}),
	readBool("matches", "MediaQueryList", dom.MediaQueryList.Matches),
	{
		Name:     "addListener",
		Params:   []api.ValueType{i32, i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			mql, err := capability[dom.MediaQueryList](b.object(stack[0]), "MediaQueryList")
			if err != nil {
				return err
			}
			listener, err := capability[dom.Func](b.object(stack[1]), "function")
			if err != nil {
				return err
			}
			return mql.AddListener(listener)
		},
	},

	{
		Name:     "requestAnimationFrame",
		Params:   []api.ValueType{i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			w, err := capability[dom.Window](b.object(stack[0]), "Window")
			if err != nil {
				return err
			}
			cb, err := capability[dom.Func](b.object(stack[1]), "function")
			if err != nil {
				return err
			}
			id, err := w.RequestAnimationFrame(cb)
			if err != nil {
				return err
			}
			stack[0] = api.EncodeI32(id)
			return nil
		},
	},
	{
		Name:     "cancelAnimationFrame",
		Params:   []api.ValueType{i32, i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			w, err := capability[dom.Window](b.object(stack[0]), "Window")
			if err != nil {
				return err
			}
			return w.CancelAnimationFrame(api.DecodeI32(stack[1]))
		},
	},
	{
		Name:     "setTimeout",
		Params:   []api.ValueType{i32, i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			w, err := capability[dom.Window](b.object(stack[0]), "Window")
			if err != nil {
				return err
			}
			cb, err := capability[dom.Func](b.object(stack[1]), "function")
			if err != nil {
				return err
			}
			delay := time.Duration(api.DecodeI32(stack[2])) * time.Millisecond
			id, err := w.SetTimeout(cb, delay)
			if err != nil {
				return err
			}
			stack[0] = api.EncodeI32(id)
			return nil
		},
	},
	{
		Name:   "clearTimeout",
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			w, err := capability[dom.Window](b.object(stack[0]), "Window")
			if err != nil {
				return err
			}
			w.ClearTimeout(api.DecodeI32(stack[1]))
			return nil
		},
	},
}

// withString builds a fallible (obj, ptr, len) -> handle method call.
func withString[T any](name, what string, optional bool, do func(T, string) (any, error)) ImportBinding {
	return ImportBinding{
		Name:     name,
		Params:   []api.ValueType{i32, i32, i32},
		Results:  []api.ValueType{i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			s, err := b.str(stack[1], stack[2])
			if err != nil {
				return err
			}
			out, err := do(v, s)
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

// withTwoStrings builds a fallible (obj, ptr, len, ptr, len) -> () call.
func withTwoStrings[T any](name, what string, do func(T, string, string) error) ImportBinding {
	return ImportBinding{
		Name:     name,
		Params:   []api.ValueType{i32, i32, i32, i32, i32},
		Fallible: true,
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			first, err := b.str(stack[1], stack[2])
			if err != nil {
				return err
			}
			second, err := b.str(stack[3], stack[4])
			if err != nil {
				return err
			}
			return do(v, first, second)
		},
	}
}

// withU32 builds an infallible (obj, u32) -> () setter.
func withU32[T any](name, what string, set func(T, uint32)) ImportBinding {
	return ImportBinding{
		Name:   name,
		Params: []api.ValueType{i32, i32},
		Fn: func(ctx context.Context, b *Bridge, stack []uint64) error {
			v, err := capability[T](b.object(stack[0]), what)
			if err != nil {
				return err
			}
			set(v, api.DecodeU32(stack[1]))
			return nil
		},
	}
}
