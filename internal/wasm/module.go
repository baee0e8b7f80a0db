package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
)

// WasmContentType is the media type a streamed module must be served with.
const WasmContentType = "application/wasm"

// ArtifactSuffix is appended to a bundle name to form its module file name.
const ArtifactSuffix = "_bg.wasm"

// Source represents a source for Wasm bytecode. A source is either buffered
// or streaming.
type Source interface {
	// Name returns a name/identifier for this module. Compiled modules are
	// cached under it.
	Name() string
}

// BufferedSource yields the whole module at once.
type BufferedSource interface {
	Source
	Bytes(ctx context.Context) ([]byte, error)
}

// StreamingSource yields a response whose body is compiled as it arrives.
type StreamingSource interface {
	Source
	Open(ctx context.Context) (*Response, error)
}

// FileSource loads Wasm from a file.
type FileSource struct {
	Path string
}

// Name returns the file path as the module name.
func (f *FileSource) Name() string {
	return f.Path
}

// Bytes reads the Wasm file.
func (f *FileSource) Bytes(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &FetchError{Source: f.Path, Err: err}
	}
	return data, nil
}

// ArtifactSource returns the module co-located with a bundle: the file
// <dir>/<name>_bg.wasm.
func ArtifactSource(dir, name string) *FileSource {
	return &FileSource{Path: filepath.Join(dir, name+ArtifactSuffix)}
}

// DefaultArtifact resolves the module co-located with the running
// executable, replacing its extension with _bg.wasm.
func DefaultArtifact() (*FileSource, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
	return ArtifactSource(filepath.Dir(exe), base), nil
}

// BytesSource loads Wasm from memory.
type BytesSource struct {
	ModuleName string
	Data       []byte
}

// Name returns the module name.
func (m *BytesSource) Name() string {
	return m.ModuleName
}

// Bytes returns the Wasm bytecode.
func (m *BytesSource) Bytes(_ context.Context) ([]byte, error) {
	return m.Data, nil
}

// HTTPSource fetches Wasm over HTTP and streams the response.
type HTTPSource struct {
	URL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Name returns the URL.
func (h *HTTPSource) Name() string {
	return h.URL
}

// Open issues a GET request. Responses outside 2xx are fetch errors.
func (h *HTTPSource) Open(ctx context.Context) (*Response, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, &FetchError{Source: h.URL, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: h.URL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &FetchError{Source: h.URL, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	out := NewResponse(resp.Body, resp.Header.Get("Content-Type"), resp.StatusCode)
	out.Source = h.URL
	return out, nil
}

// Response is a streamed module body. Everything read from it is retained so
// that a failed streaming compile can fall back to the complete bytes.
type Response struct {
	// Source names where the body came from, for error reporting.
	Source      string
	ContentType string
	Status      int

	body io.ReadCloser
	seen bytes.Buffer
}

// NewResponse wraps body.
func NewResponse(body io.ReadCloser, contentType string, status int) *Response {
	return &Response{ContentType: contentType, Status: status, body: body}
}

// Read implements io.Reader.
func (r *Response) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.seen.Write(p[:n])
	return n, err
}

// Bytes returns the whole body, including what was already read.
func (r *Response) Bytes() ([]byte, error) {
	rest, err := io.ReadAll(r.body)
	r.seen.Write(rest)
	return r.seen.Bytes(), err
}

// Close closes the body.
func (r *Response) Close() error {
	return r.body.Close()
}

// StreamCompiler compiles a module from a response.
type StreamCompiler interface {
	CompileStreaming(ctx context.Context, rt wazero.Runtime, resp *Response) (wazero.CompiledModule, error)
}

// MIMEStreamCompiler accepts only responses served as application/wasm, the
// same check a browser applies before streaming compilation.
type MIMEStreamCompiler struct{}

// CompileStreaming implements StreamCompiler.
func (MIMEStreamCompiler) CompileStreaming(ctx context.Context, rt wazero.Runtime, resp *Response) (wazero.CompiledModule, error) {
	mediaType, _, err := mime.ParseMediaType(resp.ContentType)
	if err != nil || mediaType != WasmContentType {
		return nil, fmt.Errorf("incorrect response MIME type %q, expected %q", resp.ContentType, WasmContentType)
	}
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return nil, &CompilationError{ModuleName: resp.Source, Err: err}
	}
	return compiled, nil
}

// Loader fetches, compiles and instantiates guest modules into bridges.
type Loader struct {
	runtime   *Runtime
	root      *zap.Logger
	logger    *zap.Logger
	streamer  StreamCompiler
	catalogue *Catalogue
	shapes    []ClosureShape
	env       Env
	fallback  Source
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStreamCompiler replaces the streaming compiler.
func WithStreamCompiler(s StreamCompiler) LoaderOption {
	return func(l *Loader) { l.streamer = s }
}

// WithCatalogue replaces the import catalogue.
func WithCatalogue(c *Catalogue) LoaderOption {
	return func(l *Loader) { l.catalogue = c }
}

// WithClosureShapes registers the closure trampolines of the module.
func WithClosureShapes(shapes ...ClosureShape) LoaderOption {
	return func(l *Loader) { l.shapes = append(l.shapes, shapes...) }
}

// WithEnv sets the host environment served to the module.
func WithEnv(env Env) LoaderOption {
	return func(l *Loader) { l.env = env }
}

// WithDefaultSource sets the source Init uses when given none.
func WithDefaultSource(src Source) LoaderOption {
	return func(l *Loader) { l.fallback = src }
}

// NewLoader creates a new module loader.
func NewLoader(runtime *Runtime, logger *zap.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		runtime:  runtime,
		root:     logger,
		logger:   logger.With(zap.String("component", "wasm-loader")),
		streamer: MIMEStreamCompiler{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.catalogue == nil {
		l.catalogue = NewCatalogue()
	}
	return l
}

// Init loads src and returns the running bridge. A nil src loads the default
// source. The module's start export has run when Init returns.
func (l *Loader) Init(ctx context.Context, src Source) (*Bridge, error) {
	if src == nil {
		src = l.fallback
	}
	if src == nil {
		return nil, &FetchError{Source: "<default>", Err: errors.New("no module source")}
	}
	for _, s := range l.shapes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	b := newBridge(l.runtime, l.env, l.shapes, l.root)

	b.setState(StateFetching)
	compiled, err := l.load(ctx, b, src)
	if err != nil {
		b.setState(StateUnloaded)
		return nil, err
	}

	b.setState(StateInstantiating)
	if err := b.instantiate(ctx, compiled, l.catalogue); err != nil {
		b.setState(StateUnloaded)
		return nil, err
	}

	if err := b.start(ctx); err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	b.setState(StateRunning)

	l.logger.Info("Module running",
		zap.String("module", src.Name()),
		zap.String("bridge_id", b.ID),
		zap.Int("closure_shapes", len(l.shapes)),
	)
	return b, nil
}

// load compiles src, consulting the runtime cache first.
func (l *Loader) load(ctx context.Context, b *Bridge, src Source) (*CompiledModule, error) {
	// Check cache first
	if cached, ok := l.runtime.GetCompiledModule(src.Name()); ok {
		l.logger.Debug("Module cache hit",
			zap.String("module", src.Name()),
		)
		return cached, nil
	}

	startTime := time.Now()

	var (
		compiled wazero.CompiledModule
		size     int64
		streamed bool
		err      error
	)
	switch s := src.(type) {
	case StreamingSource:
		compiled, size, streamed, err = l.compileStreaming(ctx, b, s)
	case BufferedSource:
		var data []byte
		data, err = s.Bytes(ctx)
		if err != nil {
			return nil, asFetchError(src.Name(), err)
		}
		b.setState(StateCompiling)
		compiled, err = l.compileBytes(ctx, src.Name(), data)
		size = int64(len(data))
	default:
		return nil, &FetchError{Source: src.Name(), Err: fmt.Errorf("unsupported source type %T", src)}
	}
	if err != nil {
		return nil, err
	}

	// Wrap with metadata
	compiledModule := &CompiledModule{
		Module:     compiled,
		Name:       src.Name(),
		Source:     src.Name(),
		SizeBytes:  size,
		Streamed:   streamed,
		CompiledAt: time.Now().Unix(),
	}

	// Cache the compiled module
	l.runtime.StoreCompiledModule(compiledModule)

	l.logger.Info("Module compiled successfully",
		zap.String("module", src.Name()),
		zap.Bool("streamed", streamed),
		zap.Duration("duration", time.Since(startTime)),
	)
	return compiledModule, nil
}

// compileStreaming compiles from the response. When streaming fails and the
// response was not served as application/wasm, the whole body is compiled
// from bytes instead; any other streaming failure is returned unchanged.
func (l *Loader) compileStreaming(ctx context.Context, b *Bridge, s StreamingSource) (wazero.CompiledModule, int64, bool, error) {
	resp, err := s.Open(ctx)
	if err != nil {
		return nil, 0, false, asFetchError(s.Name(), err)
	}
	defer resp.Close()

	b.setState(StateCompiling)
	compiled, err := l.streamer.CompileStreaming(ctx, l.runtime.runtime, resp)
	if err == nil {
		return compiled, int64(resp.seen.Len()), true, nil
	}
	if resp.ContentType == WasmContentType {
		return nil, 0, false, err
	}

	l.logger.Warn("Streaming compilation failed because the server does not serve wasm with the application/wasm MIME type, falling back to buffered compilation",
		zap.String("module", s.Name()),
		zap.String("content_type", resp.ContentType),
		zap.Error(err),
	)
	data, rerr := resp.Bytes()
	if rerr != nil {
		return nil, 0, false, &FetchError{Source: s.Name(), Status: resp.Status, Err: rerr}
	}
	compiled, err = l.compileBytes(ctx, s.Name(), data)
	return compiled, int64(len(data)), false, err
}

func (l *Loader) compileBytes(ctx context.Context, name string, data []byte) (wazero.CompiledModule, error) {
	l.logger.Info("Compiling Wasm module",
		zap.String("module", name),
		zap.Int("size_bytes", len(data)),
	)
	// wazero.CompileModule decodes and validates the Wasm binary
	compiled, err := l.runtime.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, &CompilationError{ModuleName: name, Err: err}
	}
	return compiled, nil
}

func asFetchError(name string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Source: name, Err: err}
}

// HeadlessEnv returns an environment backed by a headless window. Guest
// console output is logged through logger.
func HeadlessEnv(w *dom.HeadlessWindow, node bool, logger *zap.Logger) Env {
	return Env{
		Scope:   dom.NewHeadlessScope(w, node),
		Console: dom.NewZapConsole(logger, DebugString),
		Loop:    w.Loop(),
	}
}

// Init loads input on a runtime of its own, serving it a headless window
// that logs through zap.L(). A nil input loads the module co-located with the
// executable. Deferred callbacks run on Env().Loop; closing the bridge stops
// that loop and closes the runtime.
func Init(ctx context.Context, input Source) (*Bridge, error) {
	logger := zap.L()
	rt, err := NewRuntime(ctx, logger, DefaultRuntimeConfig())
	if err != nil {
		return nil, err
	}
	loop := dom.NewLoop(logger)
	window := dom.NewHeadlessWindow(loop, dom.DefaultViewport(), logger)

	opts := []LoaderOption{WithEnv(HeadlessEnv(window, false, logger))}
	if artifact, aerr := DefaultArtifact(); aerr == nil {
		opts = append(opts, WithDefaultSource(artifact))
	}

	b, err := NewLoader(rt, logger, opts...).Init(ctx, input)
	if err != nil {
		loop.Close()
		_ = rt.Close(ctx)
		return nil, err
	}
	b.release = func(ctx context.Context) error {
		loop.Close()
		return rt.Close(ctx)
	}
	return b, nil
}
