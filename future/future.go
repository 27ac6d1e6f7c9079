// Package future provides a small generic one-shot future, the idiomatic Go
// stand-in for java.util.concurrent.CompletableFuture used throughout the
// pub/sub engine's original source. A Future is completed exactly once,
// from exactly one goroutine; every other writer loses silently, matching
// CompletableFuture.complete's boolean-return-but-usually-ignored contract.
package future

import (
	"context"
	"sync"
)

// Future is a single-assignment result slot. The zero value is not usable;
// construct with New.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	val       T
	err       error
	onComplete []func(T, error)
}

// New returns a pending Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a Future that is already resolved with val.
func Completed[T any](val T) *Future[T] {
	f := New[T]()
	f.complete(val, nil)
	return f
}

// Failed returns a Future that is already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// complete resolves the future, running any registered OnComplete callbacks
// each on its own goroutine. Returns false if the future was already done.
func (f *Future[T]) complete(val T, err error) bool {
	resolved := false
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.val, f.err = val, err
		cbs := f.onComplete
		f.onComplete = nil
		close(f.done)
		f.mu.Unlock()
		resolved = true
		for _, cb := range cbs {
			go cb(val, err)
		}
	})
	return resolved
}

// Complete resolves the future with a successful value. No-op if already done.
func (f *Future[T]) Complete(val T) bool {
	return f.complete(val, nil)
}

// Cancel resolves the future with err, which should be non-nil. No-op if
// already done — teardown always proceeds regardless of cancellation
// outcome, per the engine's "canceling an unsubscribe is a no-op" rule.
func (f *Future[T]) Cancel(err error) bool {
	var zero T
	return f.complete(zero, err)
}

// IsDone reports whether the future has resolved, successfully or not.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done exposes the completion channel for select statements.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done, whichever comes
// first. A context cancellation does not resolve the future itself — it
// only stops this particular caller from waiting on it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers cb to run when the future resolves. If it has
// already resolved, cb runs immediately on a new goroutine. Callbacks never
// run synchronously inside the goroutine that called Complete/Cancel, so a
// continuation can safely re-enter the engine without risking a lock
// re-acquisition on the same goroutine that is releasing it.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	if f.IsDone() {
		val, err := f.val, f.err
		f.mu.Unlock()
		go cb(val, err)
		return
	}
	f.onComplete = append(f.onComplete, cb)
	f.mu.Unlock()
}

// Map derives a new future that resolves once f does, applying fn to a
// successful value. An error on f propagates untouched.
func Map[T, R any](f *Future[T], fn func(T) R) *Future[R] {
	out := New[R]()
	f.OnComplete(func(val T, err error) {
		if err != nil {
			out.Cancel(err)
			return
		}
		out.Complete(fn(val))
	})
	return out
}

// WaitAll resolves once every future in fs has resolved, collecting results
// in order. The first error encountered (in completion order, not index
// order) fails the aggregate future; others are dropped, mirroring
// CompletableFuture.allOf followed by a per-future getNow(null) in the
// original source's psubscribe fan-out across master-slave entries.
func WaitAll[T any](fs ...*Future[T]) *Future[[]T] {
	out := New[[]T]()
	if len(fs) == 0 {
		out.Complete(nil)
		return out
	}
	var mu sync.Mutex
	remaining := len(fs)
	var firstErr error
	for _, f := range fs {
		f.OnComplete(func(_ T, err error) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			remaining--
			done := remaining == 0
			mu.Unlock()
			if !done {
				return
			}
			if firstErr != nil {
				out.Cancel(firstErr)
				return
			}
			results := make([]T, len(fs))
			for i, g := range fs {
				v, _ := g.Wait(context.Background())
				results[i] = v
			}
			out.Complete(results)
		})
	}
	return out
}
