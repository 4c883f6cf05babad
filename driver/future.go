package driver

import (
	"context"
	"sync"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
)

// Future is the read side of a single assignment result. It is completed through the Promise that created it.
type Future[T any] struct {
	lock      sync.Mutex
	complete  bool
	result    T
	err       error
	doneChan  chan struct{}
	callbacks []func(T, error)
}

// Promise is the write side of a Future. Only the first call to Complete or Fail takes effect.
type Promise[T any] struct {
	future *Future[T]
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{future: &Future[T]{doneChan: make(chan struct{})}}
}

func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Complete completes the future with a result. It returns false if the future was already completed.
func (p *Promise[T]) Complete(result T) bool {
	return p.future.set(result, nil)
}

// Fail completes the future with an error. It returns false if the future was already completed.
func (p *Promise[T]) Fail(err error) bool {
	var zero T
	return p.future.set(zero, err)
}

func (f *Future[T]) set(result T, err error) bool {
	f.lock.Lock()
	if f.complete {
		f.lock.Unlock()
		return false
	}
	f.complete = true
	f.result = result
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.doneChan)
	f.lock.Unlock()
	for _, cb := range callbacks {
		cb(result, err)
	}
	return true
}

// Done is a non-blocking check of whether the future has completed.
func (f *Future[T]) Done() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.complete
}

// DoneChan is closed when the future completes.
func (f *Future[T]) DoneChan() <-chan struct{} {
	return f.doneChan
}

// Result blocks until the future completes or the context is done.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.doneChan:
		f.lock.Lock()
		defer f.lock.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, contextError(ctx)
	}
}

func (f *Future[T]) ResultWithTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Result(ctx)
}

// OnComplete registers a callback which is called once with the result. If the future has already completed the
// callback runs immediately on the calling goroutine, otherwise it runs on the goroutine that completes the future
// and must not block.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.lock.Lock()
	if !f.complete {
		f.callbacks = append(f.callbacks, cb)
		f.lock.Unlock()
		return
	}
	result, err := f.result, f.err
	f.lock.Unlock()
	cb(result, err)
}

// contextError converts the error of a done context. An expired deadline is a driver Timeout.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.WithStack(errors.NewDriverErrorf(errors.Timeout, "timed out waiting: %v", err))
	}
	return errors.WithStack(err)
}
