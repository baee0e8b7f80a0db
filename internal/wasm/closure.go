package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/wasm-host-bridge/internal/heap"
)

// ArgKind says how a host argument is lowered when a closure is invoked.
type ArgKind string

const (
	// ArgObject passes the argument as a fresh heap handle owned by the guest.
	ArgObject ArgKind = "object"
	// ArgF64 passes a number as f64.
	ArgF64 ArgKind = "f64"
	// ArgI32 passes a number or bool as i32.
	ArgI32 ArgKind = "i32"
)

// ClosureShape describes one closure trampoline of a module: the import that
// creates closures of this shape, the export that invokes them, the function
// table index of their destructor and how arguments are lowered.
type ClosureShape struct {
	Wrapper    string    `yaml:"wrapper" mapstructure:"wrapper"`
	Invoker    string    `yaml:"invoker" mapstructure:"invoker"`
	Destructor uint32    `yaml:"destructor" mapstructure:"destructor"`
	Args       []ArgKind `yaml:"args" mapstructure:"args"`
}

// Validate checks that the shape names a wrapper and an invoker and only
// uses known argument kinds.
func (s ClosureShape) Validate() error {
	if s.Wrapper == "" {
		return errors.New("closure shape: wrapper is required")
	}
	if s.Invoker == "" {
		return fmt.Errorf("closure shape %s: invoker is required", s.Wrapper)
	}
	for i, k := range s.Args {
		switch k {
		case ArgObject, ArgF64, ArgI32:
		default:
			return fmt.Errorf("closure shape %s: argument %d has unknown kind %q", s.Wrapper, i, k)
		}
	}
	return nil
}

// Closure is a host-callable wrapper around a guest closure environment.
//
// The guest hands out (a, b): a is the environment pointer and b the vtable.
// cnt counts the guest's own reference plus every invocation in flight.
// While an invocation runs, a is zeroed, so a recursive invocation reaches
// the guest with a null environment and the guest rejects it. a is restored
// afterwards unless the last reference went away, in which case the
// destructor runs with the original (a, b).
type Closure struct {
	heap    *heap.Table
	shape   ClosureShape
	invoker guestFunc
	dtor    guestFunc

	a   uint32
	b   uint32
	cnt int
}

// NewClosure creates a closure with a reference count of one.
func NewClosure(tbl *heap.Table, a, b uint32, shape ClosureShape, invoker, dtor guestFunc) *Closure {
	return &Closure{
		heap:    tbl,
		shape:   shape,
		invoker: invoker,
		dtor:    dtor,
		a:       a,
		b:       b,
		cnt:     1,
	}
}

// Invoke calls the guest closure. Arguments beyond the shape's arity are
// ignored; missing ones are passed as undefined or zero.
func (c *Closure) Invoke(ctx context.Context, args ...any) (ret any, err error) {
	if c.cnt == 0 {
		return nil, ErrClosureDropped
	}

	params := make([]uint64, 0, 2+len(c.shape.Args))
	a, release := c.enter()
	defer func() {
		if derr := release(ctx); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	params = append(params, api.EncodeU32(a), api.EncodeU32(c.b))
	for i, kind := range c.shape.Args {
		var arg any = heap.Undefined
		if i < len(args) {
			arg = args[i]
		}
		params = append(params, c.lower(kind, arg))
	}

	if _, err := c.invoker.Call(ctx, params...); err != nil {
		return nil, err
	}
	return heap.Undefined, nil
}

// Release drops the guest's reference. It reports true when no invocation is
// in flight, in which case the guest frees the environment itself. Otherwise
// the destructor runs when the last invocation returns.
func (c *Closure) Release() bool {
	if c.cnt == 1 {
		c.cnt = 0
		c.a = 0
		return true
	}
	if c.cnt > 0 {
		c.cnt--
	}
	return false
}

// Refs returns the current reference count.
func (c *Closure) Refs() int { return c.cnt }

// Dropped reports whether the closure can no longer be invoked.
func (c *Closure) Dropped() bool { return c.cnt == 0 }

func (c *Closure) enter() (uint32, func(context.Context) error) {
	c.cnt++
	a := c.a
	c.a = 0
	return a, func(ctx context.Context) error {
		c.cnt--
		if c.cnt == 0 {
			if c.dtor == nil {
				return nil
			}
			if _, err := c.dtor.Call(ctx, api.EncodeU32(a), api.EncodeU32(c.b)); err != nil {
				return fmt.Errorf("closure destructor %d: %w", c.shape.Destructor, err)
			}
			return nil
		}
		c.a = a
		return nil
	}
}

func (c *Closure) lower(kind ArgKind, arg any) uint64 {
	switch kind {
	case ArgF64:
		f, _ := toFloat(arg)
		return api.EncodeF64(f)
	case ArgI32:
		f, _ := toFloat(arg)
		return api.EncodeI32(int32(f))
	}
	return api.EncodeU32(c.heap.Add(arg))
}

// toFloat converts host numbers and bools the way the guest sees them.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
