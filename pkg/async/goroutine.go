package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quill/pkg/observability"
)

// Tasks runs fire-and-forget work detached from the request that started
// it. Wait lets graceful shutdown drain anything still in flight.
type Tasks struct {
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewTasks creates a task runner. logger may be nil.
func NewTasks(logger *observability.Logger) *Tasks {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Tasks{logger: logger}
}

// SafeGo executes fn in a goroutine with panic recovery and a timeout.
// The task keeps parentCtx's values but not its cancellation, so work
// started by a request survives the response being written.
//
//	tasks.SafeGo(r.Context(), 10*time.Second, "delete old avatar", func(ctx context.Context) error {
//	    return media.Delete(ctx, media.BucketAvatars, oldURL)
//	})
func (t *Tasks) SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				t.logger.WithField("task", taskName).
					Errorf("panic in background task: %v\n%s", r, debug.Stack())
			}
		}()

		if err := fn(ctx); err != nil {
			t.logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func (t *Tasks) SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	t.SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until all started tasks finish or ctx is done
func (t *Tasks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}

// Batch applies fn to every item with at most workers running at once,
// each under its own timeout. All errors are returned joined; panics are
// converted to errors.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) error {

	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("panic: %v", r))
				}
			}()

			tctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := fn(tctx, item); err != nil {
				record(err)
			}
			// Errors are collected rather than returned so one failure
			// does not cancel the remaining items.
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
