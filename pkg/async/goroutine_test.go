package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_Success(t *testing.T) {
	tasks := NewTasks(nil)
	executed := atomic.Bool{}

	tasks.SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	require.NoError(t, tasks.Wait(context.Background()))
	assert.True(t, executed.Load())
}

func TestSafeGo_WithError(t *testing.T) {
	tasks := NewTasks(nil)
	executed := atomic.Bool{}

	tasks.SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return errors.New("test error")
	})

	require.NoError(t, tasks.Wait(context.Background()))
	assert.True(t, executed.Load(), "error should be logged, not crash")
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	tasks := NewTasks(nil)

	tasks.SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
		panic("boom")
	})

	assert.NoError(t, tasks.Wait(context.Background()))
}

func TestSafeGo_OutlivesParentCancellation(t *testing.T) {
	tasks := NewTasks(nil)
	parent, cancel := context.WithCancel(context.Background())
	var sawErr atomic.Value

	tasks.SafeGo(parent, time.Second, "detached", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			sawErr.Store(err)
		}
		return nil
	})
	cancel()

	require.NoError(t, tasks.Wait(context.Background()))
	assert.Nil(t, sawErr.Load())
}

func TestSafeGo_Timeout(t *testing.T) {
	tasks := NewTasks(nil)
	timedOut := atomic.Bool{}

	tasks.SafeGo(context.Background(), 20*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		timedOut.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})

	require.NoError(t, tasks.Wait(context.Background()))
	assert.True(t, timedOut.Load())
}

func TestSafeGoNoError(t *testing.T) {
	tasks := NewTasks(nil)
	executed := atomic.Bool{}

	tasks.SafeGoNoError(context.Background(), time.Second, "no error", func(ctx context.Context) {
		executed.Store(true)
	})

	require.NoError(t, tasks.Wait(context.Background()))
	assert.True(t, executed.Load())
}

func TestTasks_WaitTimesOut(t *testing.T) {
	tasks := NewTasks(nil)
	release := make(chan struct{})
	defer close(release)

	tasks.SafeGo(context.Background(), time.Second, "blocked", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, tasks.Wait(ctx))
}

func TestBatch(t *testing.T) {
	var sum atomic.Int64
	err := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 2, time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(15), sum.Load())
}

func TestBatch_CollectsAllErrors(t *testing.T) {
	var processed atomic.Int64
	err := Batch(context.Background(), []string{"a", "b", "c"}, 3, time.Second, func(ctx context.Context, s string) error {
		processed.Add(1)
		if s == "c" {
			panic("bad item")
		}
		if s == "a" {
			return errors.New("failed a")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed a")
	assert.Contains(t, err.Error(), "panic: bad item")
	assert.Equal(t, int64(3), processed.Load())
}
