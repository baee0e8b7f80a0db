// Package dom declares the host capabilities a guest module may reach through
// the import surface, and provides a headless in-process implementation of
// them.
//
// Every host object kind is described by a small capability interface. Import
// functions select behaviour by asserting the capability they need on the
// value stored behind a heap handle; a value lacking the capability yields a
// TypeError, the same way a browser would throw on a missing method.
package dom

import (
	"context"
	"fmt"
	"time"
)

// Func is a host value that can be called.
type Func interface {
	Invoke(ctx context.Context, args ...any) (any, error)
}

// Named is implemented by functions that have a diagnostic name.
type Named interface {
	Name() string
}

// PropertyGetter exposes named properties for dynamic lookups.
type PropertyGetter interface {
	Property(name string) (any, bool)
}

// Scope discovers the global objects of the environment. The guest probes
// them in descending fallback order: self, window, globalThis, global.
type Scope interface {
	Self() (any, error)
	Window() (any, error)
	GlobalThis() (any, error)
	Global() (any, error)
	// Module returns the CommonJS module object, or heap.Undefined outside node.
	Module() any
	// NewFunction builds a function from source. Only the snippets used for
	// global discovery are understood; others fail when invoked.
	NewFunction(body string) Func
}

// Window is the top-level browsing context.
type Window interface {
	EventTarget
	Document() Document
	InnerWidth() (float64, error)
	InnerHeight() (float64, error)
	DevicePixelRatio() float64
	MatchMedia(query string) (MediaQueryList, error)
	RequestAnimationFrame(cb Func) (int32, error)
	CancelAnimationFrame(id int32) error
	SetTimeout(cb Func, delay time.Duration) (int32, error)
	ClearTimeout(id int32)
}

// Document is the DOM root.
type Document interface {
	Node
	Body() Element
	FullscreenElement() Element
	CreateElement(tag string) (Element, error)
	QuerySelector(selector string) (Element, error)
}

// Node is anything that can hold children.
type Node interface {
	AppendChild(child Node) (Node, error)
}

// EventTarget accepts event listeners.
type EventTarget interface {
	AddEventListener(typ string, listener Func) error
}

// Element is a DOM element.
type Element interface {
	Node
	EventTarget
	TagName() string
	SetAttribute(name, value string) error
	Attribute(name string) (string, bool)
	Style() Style
	Remove()
	RequestFullscreen() error
}

// Canvas is an HTMLCanvasElement.
type Canvas interface {
	Element
	Width() uint32
	SetWidth(w uint32)
	Height() uint32
	SetHeight(h uint32)
}

// Style is a CSSStyleDeclaration.
type Style interface {
	SetProperty(name, value string) error
	PropertyValue(name string) string
}

// MediaQueryList is the result of Window.MatchMedia.
type MediaQueryList interface {
	Matches() bool
	AddListener(listener Func) error
}

// Performance exposes the monotonic clock.
type Performance interface {
	// Now returns milliseconds since the time origin.
	Now() float64
}

// Crypto is the web crypto random source.
type Crypto interface {
	GetRandomValues(buf []byte) error
}

// NodeCrypto is the node crypto module random source.
type NodeCrypto interface {
	RandomFillSync(buf []byte) error
}

// Requirer is the CommonJS module object.
type Requirer interface {
	Require(name string) (any, error)
}

// Console receives guest log output.
type Console interface {
	Debug(v any)
	Info(v any)
	Log(v any)
	Warn(v any)
	Error(v any)
}

// Event is the base DOM event.
type Event interface {
	Type() string
	CancelBubble() bool
	PreventDefault()
	StopPropagation()
}

// Modifiers exposes modifier key state.
type Modifiers interface {
	CtrlKey() bool
	ShiftKey() bool
	AltKey() bool
	MetaKey() bool
}

// MouseEvent is a pointer device event.
type MouseEvent interface {
	Event
	Modifiers
	Button() int16
	OffsetX() int32
	OffsetY() int32
}

// PointerEvent adds the pointer identifier.
type PointerEvent interface {
	MouseEvent
	PointerID() int32
}

// WheelEvent is a scroll event.
type WheelEvent interface {
	MouseEvent
	DeltaX() float64
	DeltaY() float64
	DeltaMode() uint32
}

// KeyboardEvent is a key press or release.
type KeyboardEvent interface {
	Event
	Modifiers
	Key() string
	Code() string
	CharCode() uint32
	KeyCode() uint32
}

// Error is a host exception object.
type Error struct {
	Name    string
	Message string
	Stack   string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// TypeError reports a value that lacks the requested capability.
func TypeError(format string, args ...any) *Error {
	return &Error{Name: "TypeError", Message: fmt.Sprintf(format, args...)}
}

// ReferenceError reports a missing global binding.
func ReferenceError(format string, args ...any) *Error {
	return &Error{Name: "ReferenceError", Message: fmt.Sprintf(format, args...)}
}

// NotSupportedError reports an operation the environment refuses.
func NotSupportedError(format string, args ...any) *Error {
	return &Error{Name: "NotSupportedError", Message: fmt.Sprintf(format, args...)}
}

// QuotaExceededError reports a request larger than the environment allows.
func QuotaExceededError(format string, args ...any) *Error {
	return &Error{Name: "QuotaExceededError", Message: fmt.Sprintf(format, args...)}
}

// FuncOf adapts a Go function to Func.
type FuncOf func(ctx context.Context, args ...any) (any, error)

// Invoke calls f.
func (f FuncOf) Invoke(ctx context.Context, args ...any) (any, error) {
	return f(ctx, args...)
}
