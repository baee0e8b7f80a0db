package dom

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Scheduler registers deferred, cancellable callbacks. Tokens are positive;
// cancelling an unknown, fired or already cancelled token is a no-op.
type Scheduler interface {
	RequestAnimationFrame(cb Func) int32
	CancelAnimationFrame(id int32)
	SetTimeout(cb Func, delay time.Duration) int32
	ClearTimeout(id int32)
	Now() float64
}

// DefaultFrameRate is the animation frame rate of a Loop.
const DefaultFrameRate = 60

// Loop is a cooperative event loop. Timers fire on background goroutines but
// only enqueue their token; every callback runs on the goroutine that called
// Run, so the guest is never entered concurrently.
type Loop struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	origin  time.Time

	mu       sync.Mutex
	nextID   int32
	timers   map[int32]*time.Timer
	timeouts map[int32]Func
	due      []int32
	frames   map[int32]Func
	running  map[int32]Func
	wake     chan struct{}

	failFast bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithFrameRate sets how many animation frames may run per second.
func WithFrameRate(fps float64) LoopOption {
	return func(l *Loop) {
		if fps <= 0 {
			l.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		l.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
}

// WithFailFast makes Run return the first callback error instead of logging it.
func WithFailFast() LoopOption {
	return func(l *Loop) { l.failFast = true }
}

// NewLoop creates an idle loop.
func NewLoop(logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		logger:   logger.With(zap.String("component", "dom-loop")),
		limiter:  rate.NewLimiter(rate.Limit(DefaultFrameRate), 1),
		origin:   time.Now(),
		nextID:   1,
		timers:   make(map[int32]*time.Timer),
		timeouts: make(map[int32]Func),
		frames:   make(map[int32]Func),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns milliseconds since the loop was created.
func (l *Loop) Now() float64 {
	return float64(time.Since(l.origin)) / float64(time.Millisecond)
}

// RequestAnimationFrame queues cb for the next frame.
func (l *Loop) RequestAnimationFrame(cb Func) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.allocID()
	l.frames[id] = cb
	l.signal()
	return id
}

// CancelAnimationFrame removes a queued frame callback. A callback of the
// frame being dispatched can still be cancelled until it fires.
func (l *Loop) CancelAnimationFrame(id int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.frames, id)
	delete(l.running, id)
}

// SetTimeout runs cb once after delay.
func (l *Loop) SetTimeout(cb Func, delay time.Duration) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	id := l.allocID()
	l.timeouts[id] = cb
	l.timers[id] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.timeouts[id]; ok {
			l.due = append(l.due, id)
			l.signal()
		}
	})
	return id
}

// ClearTimeout cancels a pending timeout.
func (l *Loop) ClearTimeout(id int32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
	delete(l.timeouts, id)
}

// Pending reports the number of registered frame and timeout callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames) + len(l.timeouts)
}

// Run dispatches callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, false)
}

// RunUntilIdle dispatches callbacks until nothing is pending or ctx is done.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	return l.run(ctx, true)
}

// Close stops every pending timer and forgets all callbacks.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.timeouts = make(map[int32]Func)
	l.frames = make(map[int32]Func)
	l.running = nil
	l.due = nil
}

func (l *Loop) run(ctx context.Context, untilIdle bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.runTimeouts(ctx); err != nil {
			return err
		}

		l.mu.Lock()
		haveFrames := len(l.frames) > 0
		idle := len(l.frames) == 0 && len(l.timeouts) == 0
		l.mu.Unlock()

		if haveFrames {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := l.runFrame(ctx); err != nil {
				return err
			}
			continue
		}

		if idle && untilIdle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) runTimeouts(ctx context.Context) error {
	l.mu.Lock()
	due := l.due
	l.due = nil
	l.mu.Unlock()

	for _, id := range due {
		l.mu.Lock()
		cb, ok := l.timeouts[id]
		delete(l.timeouts, id)
		delete(l.timers, id)
		l.mu.Unlock()

		// Cleared after firing but before dispatch.
		if !ok {
			continue
		}
		if err := l.dispatch(ctx, "timeout", id, cb); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) runFrame(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]int32, 0, len(l.frames))
	for id := range l.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	l.running = l.frames
	l.frames = make(map[int32]Func)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = nil
		l.mu.Unlock()
	}()

	ts := l.Now()
	for _, id := range ids {
		l.mu.Lock()
		cb, ok := l.running[id]
		delete(l.running, id)
		l.mu.Unlock()

		if !ok {
			continue
		}
		if err := l.dispatch(ctx, "animation-frame", id, cb, ts); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, kind string, id int32, cb Func, args ...any) error {
	if _, err := cb.Invoke(ctx, args...); err != nil {
		if l.failFast {
			return err
		}
		l.logger.Error("Uncaught error in scheduled callback",
			zap.String("kind", kind),
			zap.Int32("id", id),
			zap.Error(err),
		)
	}
	return nil
}

// allocID must be called with mu held.
func (l *Loop) allocID() int32 {
	id := l.nextID
	l.nextID++
	if l.nextID <= 0 {
		l.nextID = 1
	}
	return id
}

// signal must be called with mu held.
func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
