package wasm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/wasmtest"
)

var (
	i32s1 = []api.ValueType{i32}
	i32s2 = []api.ValueType{i32, i32}
	i32s3 = []api.ValueType{i32, i32, i32}
)

const (
	documentImport      = "__wbg_document_6cc8d0b87c0a99b9"
	createElementImport = "__wbg_createElement_1f2e3d4c5b6a7980"
	closureWrapper7     = "__wbindgen_closure_wrapper7"
)

type testHarness struct {
	runtime *Runtime
	window  *dom.HeadlessWindow
	logger  *zap.Logger
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	window := dom.NewHeadlessWindow(dom.NewLoop(logger), dom.DefaultViewport(), logger)
	return &testHarness{runtime: runtime, window: window, logger: logger, logs: logs}
}

func (h *testHarness) loader(opts ...LoaderOption) *Loader {
	env := HeadlessEnv(h.window, false, h.logger)
	return NewLoader(h.runtime, h.logger, append([]LoaderOption{WithEnv(env)}, opts...)...)
}

func globalValue(t *testing.T, b *Bridge, name string) uint32 {
	t.Helper()
	g := b.Module().ExportedGlobal(name)
	require.NotNil(t, g, "global %s", name)
	return api.DecodeU32(g.Get())
}

func TestLoaderRunsStartOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := wasmtest.NewGuest(nil)
	b, err := h.loader().Init(ctx, &BytesSource{ModuleName: "start-once", Data: g.Bytes()})
	require.NoError(t, err)
	defer b.Close(ctx)

	assert.Equal(t, StateRunning, b.State())
	assert.Equal(t, uint32(1), globalValue(t, b, wasmtest.GlobalStarts))

	require.NoError(t, b.start(ctx))
	assert.Equal(t, uint32(1), globalValue(t, b, wasmtest.GlobalStarts))
}

func TestLoaderCachesCompiledModule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loader := h.loader()
	src := &BytesSource{ModuleName: "cached", Data: wasmtest.NewGuest(nil).Bytes()}

	first, err := loader.Init(ctx, src)
	require.NoError(t, err)
	cached, ok := h.runtime.GetCompiledModule("cached")
	require.True(t, ok)
	require.NoError(t, first.Close(ctx))

	second, err := loader.Init(ctx, src)
	require.NoError(t, err)
	defer second.Close(ctx)

	again, ok := h.runtime.GetCompiledModule("cached")
	require.True(t, ok)
	assert.Same(t, cached, again)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestLoaderRejectsSecondBridge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loader := h.loader()

	first, err := loader.Init(ctx, &BytesSource{ModuleName: "first", Data: wasmtest.NewGuest(nil).Bytes()})
	require.NoError(t, err)
	defer first.Close(ctx)

	_, err = loader.Init(ctx, &BytesSource{ModuleName: "second", Data: wasmtest.NewGuest(nil).Bytes()})
	var instErr *InstantiationError
	require.ErrorAs(t, err, &instErr)
	assert.ErrorIs(t, err, errRuntimeBusy)
}

func TestLoaderUnknownImport(t *testing.T) {
	tests := []struct {
		name string
		imp  wasmtest.Import
	}{
		{"unknown name", wasmtest.Import{Name: "__wbg_nope_0123456789abcdef", Params: i32s1, Results: i32s1}},
		{"wrong signature", wasmtest.Import{Name: "__wbindgen_object_drop_ref", Params: i32s1, Results: i32s1}},
		{"closure without shape", wasmtest.Import{Name: closureWrapper7, Params: i32s3, Results: i32s1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			g := wasmtest.NewGuest([]wasmtest.Import{tt.imp})
			_, err := h.loader().Init(ctx, &BytesSource{ModuleName: tt.name, Data: g.Bytes()})

			var unknown *UnknownImportError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, "wbg", unknown.Module)
			assert.Equal(t, tt.imp.Name, unknown.Name)
		})
	}
}

func TestGuestStringRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := wasmtest.NewGuest([]wasmtest.Import{
		{Name: "__wbindgen_string_new", Params: i32s2, Results: i32s1},
	})
	g.Forward("make_string", "__wbindgen_string_new", i32s2, i32s1)

	b, err := h.loader().Init(ctx, &BytesSource{ModuleName: "strings", Data: g.Bytes()})
	require.NoError(t, err)
	defer b.Close(ctx)

	for _, text := range []string{"", "plain ascii", "héllo wörld ✓", "emoji 😀 tail", "\ufeffbom"} {
		ptr, n, err := b.Marshaller().WriteString(ctx, text, b.exports.malloc, b.exports.realloc)
		require.NoError(t, err)

		res, err := b.Call(ctx, "make_string", uint64(ptr), uint64(n))
		require.NoError(t, err)
		assert.Equal(t, text, b.Heap().Get(api.DecodeU32(res[0])), "text %q", text)
	}
}

func TestFallibleImportStoresException(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := wasmtest.NewGuest([]wasmtest.Import{
		{Name: documentImport, Params: i32s1, Results: i32s1},
		{Name: createElementImport, Params: i32s3, Results: i32s1},
	})
	g.Forward("document", documentImport, i32s1, i32s1)
	g.Forward("create_element", createElementImport, i32s3, i32s1)

	b, err := h.loader().Init(ctx, &BytesSource{ModuleName: "exceptions", Data: g.Bytes()})
	require.NoError(t, err)
	defer b.Close(ctx)

	win := b.Heap().Add(h.window)
	res, err := b.Call(ctx, "document", uint64(win))
	require.NoError(t, err)
	doc := res[0]

	ptr, n, err := b.Marshaller().WriteString(ctx, "not a tag!", b.exports.malloc, b.exports.realloc)
	require.NoError(t, err)
	res, err = b.Call(ctx, "create_element", doc, uint64(ptr), uint64(n))
	require.NoError(t, err, "a fallible import must not abort the guest call")
	assert.Equal(t, uint64(0), res[0])

	exn := globalValue(t, b, wasmtest.GlobalExn)
	require.NotZero(t, exn)
	stored, ok := b.Heap().Get(exn).(*HostError)
	require.True(t, ok, "exn_store received %v", b.Heap().Get(exn))
	assert.Equal(t, "InvalidCharacterError", stored.Name)
	assert.Contains(t, stored.Stack, createElementImport)

	ptr, n, err = b.Marshaller().WriteString(ctx, "canvas", b.exports.malloc, b.exports.realloc)
	require.NoError(t, err)
	res, err = b.Call(ctx, "create_element", doc, uint64(ptr), uint64(n))
	require.NoError(t, err)
	_, isCanvas := b.Heap().Get(api.DecodeU32(res[0])).(dom.Canvas)
	assert.True(t, isCanvas)
}

func TestInfallibleImportAbortsCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := wasmtest.NewGuest([]wasmtest.Import{
		{Name: documentImport, Params: i32s1, Results: i32s1},
		{Name: "__wbindgen_throw", Params: i32s2},
	})
	g.Forward("document", documentImport, i32s1, i32s1)
	g.Forward("throw", "__wbindgen_throw", i32s2, nil)

	b, err := h.loader().Init(ctx, &BytesSource{ModuleName: "throws", Data: g.Bytes()})
	require.NoError(t, err)
	defer b.Close(ctx)

	t.Run("module throw", func(t *testing.T) {
		ptr, n, err := b.Marshaller().WriteString(ctx, "boom", b.exports.malloc, b.exports.realloc)
		require.NoError(t, err)

		_, err = b.Call(ctx, "throw", uint64(ptr), uint64(n))
		var callErr *GuestCallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, "throw", callErr.Export)

		var thrown *ThrownError
		require.ErrorAs(t, err, &thrown)
		assert.Equal(t, "boom", thrown.Message)
	})

	t.Run("missing capability", func(t *testing.T) {
		notAWindow := b.Heap().Add("just a string")
		_, err := b.Call(ctx, "document", uint64(notAWindow))

		var hostErr *HostFunctionError
		require.ErrorAs(t, err, &hostErr)
		assert.Equal(t, documentImport, hostErr.FunctionName)

		var typeErr *dom.Error
		require.ErrorAs(t, err, &typeErr)
		assert.Equal(t, "TypeError", typeErr.Name)
	})
}

// closureGuest builds a guest whose invoker counts calls and, when a handle
// was registered with set_self, drops that closure from inside the call.
func closureGuest() *wasmtest.Guest {
	g := wasmtest.NewGuest([]wasmtest.Import{
		{Name: closureWrapper7, Params: i32s3, Results: i32s1},
		{Name: "__wbindgen_cb_drop", Params: i32s1, Results: i32s1},
	})
	calls := g.Global(i32, true, 0)
	drops := g.Global(i32, true, 0)
	lastA := g.Global(i32, true, 0)
	self := g.Global(i32, true, 0)
	g.Export("calls", wasmtest.KindGlobal, calls)
	g.Export("drops", wasmtest.KindGlobal, drops)
	g.Export("last_a", wasmtest.KindGlobal, lastA)

	makeClosure := g.Func(i32s2, i32s1, nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.I32Const(0),
		wasmtest.Call(g.Funcs[closureWrapper7]),
	)
	g.ExportFunc("make_closure", makeClosure)
	g.Forward("drop_closure", "__wbindgen_cb_drop", i32s1, i32s1)

	setSelf := g.Func(i32s1, nil, nil, wasmtest.LocalGet(0), wasmtest.GlobalSet(self))
	g.ExportFunc("set_self", setSelf)

	invoke := g.Func(i32s3, nil, nil,
		wasmtest.GlobalGet(calls), wasmtest.I32Const(1), wasmtest.I32Add(), wasmtest.GlobalSet(calls),
		wasmtest.GlobalGet(self), wasmtest.If(),
		wasmtest.GlobalGet(self), wasmtest.Call(g.Funcs["__wbindgen_cb_drop"]), wasmtest.Drop(),
		wasmtest.I32Const(0), wasmtest.GlobalSet(self),
		wasmtest.End(),
	)
	g.ExportFunc("invoke_closure", invoke)

	dtor := g.Func(i32s2, nil, nil,
		wasmtest.GlobalGet(drops), wasmtest.I32Const(1), wasmtest.I32Add(), wasmtest.GlobalSet(drops),
		wasmtest.LocalGet(0), wasmtest.GlobalSet(lastA),
	)
	g.Table(2)
	g.Elem(1, dtor)
	return g
}

var closureShape = ClosureShape{
	Wrapper:    closureWrapper7,
	Invoker:    "invoke_closure",
	Destructor: 1,
	Args:       []ArgKind{ArgObject},
}

func TestClosureLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("drop after invocation", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader(WithClosureShapes(closureShape)).
			Init(ctx, &BytesSource{ModuleName: "closures", Data: closureGuest().Bytes()})
		require.NoError(t, err)
		defer b.Close(ctx)

		res, err := b.Call(ctx, "make_closure", 100, 200)
		require.NoError(t, err)
		handle := res[0]
		c, ok := b.Heap().Get(api.DecodeU32(handle)).(*Closure)
		require.True(t, ok)

		_, err = c.Invoke(ctx, dom.NewEvent("click"))
		require.NoError(t, err)
		_, err = c.Invoke(ctx, dom.NewEvent("click"))
		require.NoError(t, err)
		assert.Equal(t, uint32(2), globalValue(t, b, "calls"))

		res, err = b.Call(ctx, "drop_closure", handle)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), res[0], "last reference dropped outside an invocation")
		assert.True(t, c.Dropped())
		assert.Equal(t, uint32(0), globalValue(t, b, "drops"), "the guest frees its own closure")

		_, err = c.Invoke(ctx, dom.NewEvent("click"))
		assert.ErrorIs(t, err, ErrClosureDropped)
		assert.Equal(t, uint32(2), globalValue(t, b, "calls"))
	})

	t.Run("drop during invocation", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader(WithClosureShapes(closureShape)).
			Init(ctx, &BytesSource{ModuleName: "closures", Data: closureGuest().Bytes()})
		require.NoError(t, err)
		defer b.Close(ctx)

		res, err := b.Call(ctx, "make_closure", 100, 200)
		require.NoError(t, err)
		handle := res[0]
		c := b.Heap().Get(api.DecodeU32(handle)).(*Closure)

		_, err = b.Call(ctx, "set_self", handle)
		require.NoError(t, err)

		_, err = c.Invoke(ctx, dom.NewEvent("click"))
		require.NoError(t, err)
		assert.Equal(t, uint32(1), globalValue(t, b, "drops"))
		assert.Equal(t, uint32(100), globalValue(t, b, "last_a"), "destructor sees the original environment")

		_, err = c.Invoke(ctx, dom.NewEvent("click"))
		assert.ErrorIs(t, err, ErrClosureDropped)
		assert.Equal(t, uint32(1), globalValue(t, b, "drops"), "destructor runs exactly once")
	})

	t.Run("scheduled by the window", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader(WithClosureShapes(closureShape)).
			Init(ctx, &BytesSource{ModuleName: "closures", Data: closureGuest().Bytes()})
		require.NoError(t, err)
		defer b.Close(ctx)

		res, err := b.Call(ctx, "make_closure", 7, 8)
		require.NoError(t, err)
		c := b.Heap().Get(api.DecodeU32(res[0])).(*Closure)

		id, err := h.window.SetTimeout(c, 0)
		require.NoError(t, err)
		require.NoError(t, h.window.Loop().RunUntilIdle(ctx))
		assert.Equal(t, uint32(1), globalValue(t, b, "calls"))

		// Clearing a fired timeout is a no-op.
		h.window.ClearTimeout(id)
	})
}

func TestLoaderHTTPSource(t *testing.T) {
	guest := wasmtest.NewGuest(nil).Bytes()
	garbage := []byte("<html>not wasm</html>")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wasm/app_bg.wasm":
			w.Header().Set("Content-Type", WasmContentType)
			_, _ = w.Write(guest)
		case "/octet/app_bg.wasm":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(guest)
		case "/broken/app_bg.wasm":
			w.Header().Set("Content-Type", WasmContentType)
			_, _ = w.Write(garbage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	ctx := context.Background()

	t.Run("streamed", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader().Init(ctx, &HTTPSource{URL: server.URL + "/wasm/app_bg.wasm"})
		require.NoError(t, err)
		defer b.Close(ctx)

		cached, ok := h.runtime.GetCompiledModule(server.URL + "/wasm/app_bg.wasm")
		require.True(t, ok)
		assert.True(t, cached.Streamed)
		assert.Equal(t, int64(len(guest)), cached.SizeBytes)
	})

	t.Run("wrong content type falls back", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader().Init(ctx, &HTTPSource{URL: server.URL + "/octet/app_bg.wasm"})
		require.NoError(t, err)
		defer b.Close(ctx)

		assert.Equal(t, StateRunning, b.State())
		assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("falling back").Len())

		cached, ok := h.runtime.GetCompiledModule(server.URL + "/octet/app_bg.wasm")
		require.True(t, ok)
		assert.False(t, cached.Streamed)
	})

	t.Run("correct content type is fatal", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.loader().Init(ctx, &HTTPSource{URL: server.URL + "/broken/app_bg.wasm"})

		var compErr *CompilationError
		require.ErrorAs(t, err, &compErr)
		assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
	})

	t.Run("streaming error propagates unchanged", func(t *testing.T) {
		h := newHarness(t)
		sentinel := errors.New("stream aborted")
		_, err := h.loader(WithStreamCompiler(failingStreamer{err: sentinel})).
			Init(ctx, &HTTPSource{URL: server.URL + "/wasm/app_bg.wasm"})
		assert.Same(t, sentinel, err)
	})

	t.Run("fallback after custom streamer failure", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader(WithStreamCompiler(failingStreamer{err: errors.New("no streaming")})).
			Init(ctx, &HTTPSource{URL: server.URL + "/octet/app_bg.wasm"})
		require.NoError(t, err)
		defer b.Close(ctx)
	})

	t.Run("not found", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.loader().Init(ctx, &HTTPSource{URL: server.URL + "/missing_bg.wasm"})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	})
}

// failingStreamer reads part of the body, then fails.
type failingStreamer struct {
	err error
}

func (f failingStreamer) CompileStreaming(_ context.Context, _ wazero.Runtime, resp *Response) (wazero.CompiledModule, error) {
	buf := make([]byte, 4)
	_, _ = resp.Read(buf)
	return nil, f.err
}

func TestLoaderFileSources(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app_bg.wasm"), wasmtest.NewGuest(nil).Bytes(), 0o644))

	t.Run("co-located artifact", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader().Init(ctx, ArtifactSource(dir, "app"))
		require.NoError(t, err)
		defer b.Close(ctx)
		assert.Equal(t, StateRunning, b.State())
	})

	t.Run("default source", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.loader(WithDefaultSource(ArtifactSource(dir, "app"))).Init(ctx, nil)
		require.NoError(t, err)
		defer b.Close(ctx)
	})

	t.Run("missing file", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.loader().Init(ctx, ArtifactSource(dir, "other"))

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("no source", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.loader().Init(ctx, nil)

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
	})
}

func TestBridgeClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.loader().Init(ctx, &BytesSource{ModuleName: "close", Data: wasmtest.NewGuest(nil).Bytes()})
	require.NoError(t, err)

	b.Heap().Add("held")
	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Heap().Len())

	_, err = b.Call(ctx, "grow", 1)
	assert.ErrorIs(t, err, ErrBridgeClosed)

	_, active := h.runtime.ActiveBridge()
	assert.False(t, active)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("bytes source", func(t *testing.T) {
		g := wasmtest.NewGuest(nil)
		b, err := Init(ctx, &BytesSource{ModuleName: "init", Data: g.Bytes()})
		require.NoError(t, err)
		assert.Equal(t, StateRunning, b.State())
		assert.Equal(t, uint32(1), globalValue(t, b, wasmtest.GlobalStarts))

		env := b.Env()
		require.NotNil(t, env.Loop)
		w, err := env.Scope.Window()
		require.NoError(t, err)
		window, ok := w.(dom.Window)
		require.True(t, ok)

		ran := false
		_, err = window.RequestAnimationFrame(dom.FuncOf(func(context.Context, ...any) (any, error) {
			ran = true
			return nil, nil
		}))
		require.NoError(t, err)
		require.NoError(t, env.Loop.RunUntilIdle(ctx))
		assert.True(t, ran)

		_, err = window.RequestAnimationFrame(dom.FuncOf(func(context.Context, ...any) (any, error) {
			return nil, nil
		}))
		require.NoError(t, err)

		require.NoError(t, b.Close(ctx))
		assert.True(t, b.runtime.IsClosed(), "the bridge owns its runtime")
		assert.Zero(t, env.Loop.Pending())
	})

	t.Run("calls are independent", func(t *testing.T) {
		first, err := Init(ctx, &BytesSource{ModuleName: "first", Data: wasmtest.NewGuest(nil).Bytes()})
		require.NoError(t, err)
		defer first.Close(ctx)

		second, err := Init(ctx, &BytesSource{ModuleName: "second", Data: wasmtest.NewGuest(nil).Bytes()})
		require.NoError(t, err)
		defer second.Close(ctx)

		assert.NotSame(t, first.runtime, second.runtime)
	})

	t.Run("failure is not sticky", func(t *testing.T) {
		_, err := Init(ctx, &BytesSource{ModuleName: "broken", Data: []byte("not wasm")})
		var compileErr *CompilationError
		require.ErrorAs(t, err, &compileErr)

		b, err := Init(ctx, &BytesSource{ModuleName: "fixed", Data: wasmtest.NewGuest(nil).Bytes()})
		require.NoError(t, err)
		require.NoError(t, b.Close(ctx))
	})

	t.Run("default artifact", func(t *testing.T) {
		artifact, err := DefaultArtifact()
		require.NoError(t, err)
		if _, err := os.Stat(artifact.Path); err == nil {
			t.Skipf("%s already exists", artifact.Path)
		}

		_, err = Init(ctx, nil)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, artifact.Path, fetchErr.Source)

		require.NoError(t, os.WriteFile(artifact.Path, wasmtest.NewGuest(nil).Bytes(), 0o644))
		t.Cleanup(func() { _ = os.Remove(artifact.Path) })

		b, err := Init(ctx, nil)
		require.NoError(t, err)
		defer b.Close(ctx)
		assert.Equal(t, StateRunning, b.State())
	})
}
