package dom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func runIdle(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
}

func TestTimeoutRunsOnLoopGoroutine(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t))

	var order []int
	l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		order = append(order, 2)
		return nil, nil
	}), 10*time.Millisecond)
	l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		order = append(order, 1)
		return nil, nil
	}), 0)

	runIdle(t, l)
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, l.Pending())
}

func TestClearTimeoutIsIdempotent(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t))

	called := false
	id := l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		called = true
		return nil, nil
	}), time.Hour)
	assert.Positive(t, id)

	l.ClearTimeout(id)
	l.ClearTimeout(id)
	l.ClearTimeout(12345)

	runIdle(t, l)
	assert.False(t, called)
}

func TestClearTimeoutAfterTimerFired(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t))

	called := false
	id := l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		called = true
		return nil, nil
	}), 0)

	// Let the timer enqueue the token before clearing it.
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.due) == 1
	}, time.Second, time.Millisecond)

	l.ClearTimeout(id)
	runIdle(t, l)
	assert.False(t, called)

	// A fired and dispatched token is also safe to clear.
	id = l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) { return nil, nil }), 0)
	runIdle(t, l)
	l.ClearTimeout(id)
}

func TestCancelAnimationFrameIsIdempotent(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t), WithFrameRate(0))

	ran := 0
	cb := FuncOf(func(ctx context.Context, args ...any) (any, error) {
		ran++
		return nil, nil
	})
	a := l.RequestAnimationFrame(cb)
	b := l.RequestAnimationFrame(cb)
	assert.NotEqual(t, a, b)

	l.CancelAnimationFrame(a)
	l.CancelAnimationFrame(a)
	runIdle(t, l)
	assert.Equal(t, 1, ran)

	l.CancelAnimationFrame(b)
	assert.Zero(t, l.Pending())
}

func TestCancelAnimationFrameWithinSameFrame(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t), WithFrameRate(0))

	var ran []string
	var second int32
	l.RequestAnimationFrame(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		ran = append(ran, "first")
		l.CancelAnimationFrame(second)
		return nil, nil
	}))
	second = l.RequestAnimationFrame(FuncOf(func(ctx context.Context, args ...any) (any, error) {
		ran = append(ran, "second")
		return nil, nil
	}))

	runIdle(t, l)
	assert.Equal(t, []string{"first"}, ran, "a frame cancelled before it fires never runs")
	assert.Zero(t, l.Pending())
}

func TestFrameRequestedInsideFrameRunsNextFrame(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t), WithFrameRate(0))

	var stamps []float64
	var tick Func
	tick = FuncOf(func(ctx context.Context, args ...any) (any, error) {
		require.Len(t, args, 1)
		stamps = append(stamps, args[0].(float64))
		if len(stamps) < 3 {
			l.RequestAnimationFrame(tick)
		}
		return nil, nil
	})
	l.RequestAnimationFrame(tick)

	runIdle(t, l)
	require.Len(t, stamps, 3)
	assert.LessOrEqual(t, stamps[0], stamps[1])
	assert.LessOrEqual(t, stamps[1], stamps[2])
}

func TestCallbackErrors(t *testing.T) {
	boom := errors.New("boom")
	fail := FuncOf(func(ctx context.Context, args ...any) (any, error) { return nil, boom })

	l := NewLoop(zaptest.NewLogger(t))
	l.SetTimeout(fail, 0)
	runIdle(t, l)

	strict := NewLoop(zaptest.NewLogger(t), WithFailFast())
	strict.SetTimeout(fail, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, strict.RunUntilIdle(ctx), boom)
}

func TestRunStopsOnContext(t *testing.T) {
	l := NewLoop(zaptest.NewLogger(t))
	l.SetTimeout(FuncOf(func(ctx context.Context, args ...any) (any, error) { return nil, nil }), time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Run(ctx), context.DeadlineExceeded)

	l.Close()
	assert.Zero(t, l.Pending())
}
