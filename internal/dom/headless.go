package dom

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
	"go.uber.org/zap"
)

// maxRandomBytes is the per-call limit of Crypto.GetRandomValues.
const maxRandomBytes = 65536

// Viewport describes the initial display metrics of a headless window.
type Viewport struct {
	Width      float64
	Height     float64
	PixelRatio float64
}

// DefaultViewport returns a 1280x720 viewport at 1x.
func DefaultViewport() Viewport {
	return Viewport{Width: 1280, Height: 720, PixelRatio: 1}
}

// HeadlessWindow is an in-process Window backed by a Loop.
type HeadlessWindow struct {
	listeners

	logger   *zap.Logger
	loop     *Loop
	document *HeadlessDocument
	perf     *clock
	crypto   *webCrypto

	mu       sync.Mutex
	viewport Viewport
	queries  []*mediaQuery
}

var (
	_ Window         = (*HeadlessWindow)(nil)
	_ PropertyGetter = (*HeadlessWindow)(nil)
)

// NewHeadlessWindow creates a window with an empty document containing a body.
func NewHeadlessWindow(loop *Loop, vp Viewport, logger *zap.Logger) *HeadlessWindow {
	if vp.PixelRatio <= 0 {
		vp.PixelRatio = 1
	}
	w := &HeadlessWindow{
		logger:   logger.With(zap.String("component", "dom-window")),
		loop:     loop,
		perf:     &clock{loop: loop},
		crypto:   &webCrypto{},
		viewport: vp,
	}
	w.document = newDocument(w)
	return w
}

// Loop returns the scheduler driving this window.
func (w *HeadlessWindow) Loop() *Loop { return w.loop }

// Document implements Window.
func (w *HeadlessWindow) Document() Document { return w.document }

// HeadlessDocument returns the concrete document.
func (w *HeadlessWindow) HeadlessDocument() *HeadlessDocument { return w.document }

// InnerWidth implements Window.
func (w *HeadlessWindow) InnerWidth() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport.Width, nil
}

// InnerHeight implements Window.
func (w *HeadlessWindow) InnerHeight() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport.Height, nil
}

// DevicePixelRatio implements Window.
func (w *HeadlessWindow) DevicePixelRatio() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport.PixelRatio
}

// MatchMedia implements Window.
func (w *HeadlessWindow) MatchMedia(query string) (MediaQueryList, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q := &mediaQuery{query: query}
	q.matches = evalMediaQuery(query, w.viewport)
	w.queries = append(w.queries, q)
	return q, nil
}

// Resize changes the viewport and notifies media query listeners whose
// result flipped.
func (w *HeadlessWindow) Resize(ctx context.Context, vp Viewport) {
	w.mu.Lock()
	if vp.PixelRatio <= 0 {
		vp.PixelRatio = w.viewport.PixelRatio
	}
	w.viewport = vp
	var changed []*mediaQuery
	for _, q := range w.queries {
		m := evalMediaQuery(q.query, vp)
		if m != q.matches {
			q.matches = m
			changed = append(changed, q)
		}
	}
	w.mu.Unlock()

	for _, q := range changed {
		for _, l := range q.snapshot() {
			if _, err := l.Invoke(ctx, q); err != nil {
				w.logger.Error("Media query listener failed",
					zap.String("query", q.query),
					zap.Error(err),
				)
			}
		}
	}
	w.Dispatch(ctx, NewEvent("resize"))
}

// RequestAnimationFrame implements Window.
func (w *HeadlessWindow) RequestAnimationFrame(cb Func) (int32, error) {
	return w.loop.RequestAnimationFrame(cb), nil
}

// CancelAnimationFrame implements Window.
func (w *HeadlessWindow) CancelAnimationFrame(id int32) error {
	w.loop.CancelAnimationFrame(id)
	return nil
}

// SetTimeout implements Window.
func (w *HeadlessWindow) SetTimeout(cb Func, delay time.Duration) (int32, error) {
	return w.loop.SetTimeout(cb, delay), nil
}

// ClearTimeout implements Window.
func (w *HeadlessWindow) ClearTimeout(id int32) {
	w.loop.ClearTimeout(id)
}

// Dispatch delivers ev to the window listeners.
func (w *HeadlessWindow) Dispatch(ctx context.Context, ev Event) {
	w.dispatch(ctx, w.logger, ev)
}

// Property implements PropertyGetter.
func (w *HeadlessWindow) Property(name string) (any, bool) {
	switch name {
	case "document":
		return w.document, true
	case "performance":
		return w.perf, true
	case "crypto":
		return w.crypto, true
	case "devicePixelRatio":
		return w.DevicePixelRatio(), true
	case "innerWidth":
		v, _ := w.InnerWidth()
		return v, true
	case "innerHeight":
		v, _ := w.InnerHeight()
		return v, true
	}
	return nil, false
}

// clock implements Performance on top of the loop origin.
type clock struct {
	loop *Loop
}

func (c *clock) Now() float64 { return c.loop.Now() }

// webCrypto implements Crypto with crypto/rand.
type webCrypto struct{}

func (webCrypto) GetRandomValues(buf []byte) error {
	if len(buf) > maxRandomBytes {
		return QuotaExceededError("the requested length %d exceeds %d bytes", len(buf), maxRandomBytes)
	}
	_, err := rand.Read(buf)
	return err
}

func (c *webCrypto) Property(name string) (any, bool) {
	if name == "getRandomValues" {
		return namedFunc{name: "getRandomValues", fn: func(ctx context.Context, args ...any) (any, error) {
			if len(args) == 1 {
				if buf, ok := args[0].([]byte); ok {
					return buf, c.GetRandomValues(buf)
				}
			}
			return nil, TypeError("getRandomValues expects a byte array")
		}}, true
	}
	return nil, false
}

// nodeCrypto implements NodeCrypto with crypto/rand.
type nodeCrypto struct{}

func (nodeCrypto) RandomFillSync(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// nodeModule is the CommonJS module object of the headless node mode.
type nodeModule struct{}

func (nodeModule) Require(name string) (any, error) {
	if name == "crypto" {
		return nodeCrypto{}, nil
	}
	return nil, &Error{Name: "Error", Message: "Cannot find module '" + name + "'"}
}

// HeadlessScope implements Scope for a headless window.
type HeadlessScope struct {
	window *HeadlessWindow
	node   bool
}

// NewHeadlessScope returns the global scope of w. In node mode the "global"
// binding and the CommonJS module object are available, the way they are
// under a node host.
func NewHeadlessScope(w *HeadlessWindow, node bool) *HeadlessScope {
	return &HeadlessScope{window: w, node: node}
}

func (s *HeadlessScope) Self() (any, error)       { return s.window, nil }
func (s *HeadlessScope) Window() (any, error)     { return s.window, nil }
func (s *HeadlessScope) GlobalThis() (any, error) { return s.window, nil }

func (s *HeadlessScope) Global() (any, error) {
	if s.node {
		return s.window, nil
	}
	return nil, ReferenceError("global is not defined")
}

func (s *HeadlessScope) Module() any {
	if s.node {
		return nodeModule{}
	}
	return heap.Undefined
}

func (s *HeadlessScope) NewFunction(body string) Func {
	src := strings.TrimSpace(body)
	if src == "return this" || src == "return this;" {
		return namedFunc{name: "anonymous", fn: func(ctx context.Context, args ...any) (any, error) {
			return s.window, nil
		}}
	}
	return namedFunc{name: "anonymous", fn: func(ctx context.Context, args ...any) (any, error) {
		return nil, NotSupportedError("cannot evaluate %q in a headless environment", src)
	}}
}

type namedFunc struct {
	name string
	fn   FuncOf
}

func (f namedFunc) Invoke(ctx context.Context, args ...any) (any, error) { return f.fn(ctx, args...) }
func (f namedFunc) Name() string                                         { return f.name }

// listeners is an embeddable EventTarget implementation.
type listeners struct {
	lmu    sync.Mutex
	byType map[string][]Func
}

func (t *listeners) AddEventListener(typ string, listener Func) error {
	if listener == nil {
		return TypeError("listener is not a function")
	}
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.byType == nil {
		t.byType = make(map[string][]Func)
	}
	t.byType[typ] = append(t.byType[typ], listener)
	return nil
}

// ListenerCount returns the number of listeners registered for typ.
func (t *listeners) ListenerCount(typ string) int {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	return len(t.byType[typ])
}

func (t *listeners) dispatch(ctx context.Context, logger *zap.Logger, ev Event) {
	t.lmu.Lock()
	ls := append([]Func(nil), t.byType[ev.Type()]...)
	t.lmu.Unlock()

	for _, l := range ls {
		if _, err := l.Invoke(ctx, ev); err != nil {
			logger.Error("Event listener failed",
				zap.String("event", ev.Type()),
				zap.Error(err),
			)
		}
	}
}
