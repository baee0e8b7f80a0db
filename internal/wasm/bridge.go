package wasm

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental/table"
	"go.uber.org/zap"

	wbg "github.com/woxQAQ/wasm-host-bridge/api/wasm"
	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

// State is the lifecycle stage of a Bridge.
type State int32

const (
	StateUnloaded State = iota
	StateFetching
	StateCompiling
	StateInstantiating
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateFetching:
		return "fetching"
	case StateCompiling:
		return "compiling"
	case StateInstantiating:
		return "instantiating"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// HostError is the exception object handed to the guest when a fallible
// import fails.
type HostError = dom.Error

// Env is the host environment a guest module sees through its imports.
type Env struct {
	Scope   dom.Scope
	Console dom.Console
	// Loop runs the callbacks the guest defers through Scope. It is nil
	// when the embedder drives its own scheduler.
	Loop *dom.Loop
}

// Bridge is one instantiated guest module together with the host state that
// serves its imports: the object heap, the memory views and the closure
// trampolines.
//
// A Bridge is driven from a single goroutine. Every call into the guest,
// including closures fired by the scheduler, must happen on that goroutine.
type Bridge struct {
	ID string

	logger  *zap.Logger
	runtime *Runtime
	env     Env
	debug   bool

	state atomic.Int32

	heap    *heap.Table
	views   *ViewCache
	marshal *Marshaller

	// shapes maps closure wrapper import names to their trampolines.
	shapes map[string]ClosureShape

	module     api.Module
	hostModule api.Module
	exports    exports
	invokers   map[string]api.Function
	dtors      map[uint32]api.Function

	started   bool
	closeOnce sync.Once
	// release tears down resources the bridge owns beyond its instance.
	release func(context.Context) error
}

type exports struct {
	malloc   api.Function
	realloc  api.Function
	free     api.Function
	exnStore api.Function
	start    api.Function
}

func newBridge(r *Runtime, env Env, shapes []ClosureShape, logger *zap.Logger) *Bridge {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	b := &Bridge{
		ID:       id,
		logger:   logger.With(zap.String("component", "wasm-bridge"), zap.String("bridge_id", id)),
		runtime:  r,
		env:      env,
		debug:    r.config.DebugEnabled,
		heap:     heap.NewTable(),
		shapes:   make(map[string]ClosureShape, len(shapes)),
		invokers: make(map[string]api.Function),
		dtors:    make(map[uint32]api.Function),
	}
	for _, s := range shapes {
		b.shapes[s.Wrapper] = s
	}
	return b
}

// State returns the current lifecycle stage.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	b.logger.Debug("Bridge state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
	)
}

// Heap returns the object heap table.
func (b *Bridge) Heap() *heap.Table { return b.heap }

// Marshaller returns the string and byte marshaller bound to the guest
// allocator.
func (b *Bridge) Marshaller() *Marshaller { return b.marshal }

// Module returns the guest module instance.
func (b *Bridge) Module() api.Module { return b.module }

// Env returns the host environment.
func (b *Bridge) Env() Env { return b.env }

// Call invokes a guest export by name.
func (b *Bridge) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if b.State() == StateClosed {
		return nil, ErrBridgeClosed
	}
	fn := b.module.ExportedFunction(name)
	if fn == nil {
		return nil, &FunctionNotFoundError{ModuleName: b.ID, FunctionName: name}
	}
	return b.call(ctx, name, fn, params...)
}

func (b *Bridge) call(ctx context.Context, name string, fn api.Function, params ...uint64) ([]uint64, error) {
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, &GuestCallError{Export: name, Err: err}
	}
	return res, nil
}

// start runs the module entry point. It is a no-op after the first call.
func (b *Bridge) start(ctx context.Context) error {
	if b.started {
		return nil
	}
	b.started = true
	if b.exports.start == nil {
		b.logger.Debug("Module has no start export")
		return nil
	}
	_, err := b.call(ctx, wbg.ExportStart, b.exports.start)
	return err
}

// Close releases the guest instance, its host import module and every heap
// handle. Safe to call multiple times.
func (b *Bridge) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		b.setState(StateClosed)
		if b.module != nil {
			if cerr := b.module.Close(ctx); cerr != nil {
				err = cerr
			}
		}
		if b.hostModule != nil {
			if cerr := b.hostModule.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
		if b.views != nil {
			b.views.Reset()
		}
		live := b.heap.Len()
		b.heap.Reset()
		if b.runtime != nil {
			b.runtime.forgetBridge(b.ID)
		}
		if b.release != nil {
			if rerr := b.release(ctx); rerr != nil && err == nil {
				err = rerr
			}
		}
		b.logger.Info("Bridge closed", zap.Int("released_handles", live))
	})
	return err
}

// invoker returns the export that runs closures of a shape.
func (b *Bridge) invoker(name string) (api.Function, error) {
	if fn, ok := b.invokers[name]; ok {
		return fn, nil
	}
	fn := b.module.ExportedFunction(name)
	if fn == nil {
		return nil, &FunctionNotFoundError{ModuleName: b.ID, FunctionName: name}
	}
	b.invokers[name] = fn
	return fn, nil
}

// destructor resolves a closure destructor through the function table.
func (b *Bridge) destructor(index uint32) (fn api.Function, err error) {
	if fn, ok := b.dtors[index]; ok {
		return fn, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closure destructor at table index %d: %v", index, r)
		}
	}()
	fn = table.LookupFunction(b.module, wbg.FunctionTable, index,
		[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil)
	b.dtors[index] = fn
	return fn, nil
}

// newClosure creates the host side of a closure built by a wrapper import.
func (b *Bridge) newClosure(wrapper string, a, bPtr uint32) (*Closure, error) {
	shape, ok := b.shapes[wrapper]
	if !ok {
		return nil, fmt.Errorf("no closure shape for %s", wrapper)
	}
	inv, err := b.invoker(shape.Invoker)
	if err != nil {
		return nil, err
	}
	dtor, err := b.destructor(shape.Destructor)
	if err != nil {
		return nil, err
	}
	return NewClosure(b.heap, a, bPtr, shape, inv, dtor), nil
}
