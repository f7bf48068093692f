// Package parallel runs batches of independent tasks on a bounded set of
// goroutines and returns their results in submission order.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("parallel: executor closed")

// DefaultThreads is the thread count used when NewExecutor gets n <= 0.
const DefaultThreads = 4

// Task computes one result. It should return promptly once ctx is done.
type Task[T any] func(ctx context.Context) T

// Executor runs task batches over a lazily created WorkerPool.
//
// Results are index-aligned with the submitted tasks regardless of which
// worker finishes first. A task that panics is recovered, logged, and leaves
// the zero value of T at its index; the rest of the batch is unaffected.
//
// With one thread, or a batch of one task, tasks run synchronously on the
// caller's goroutine and no pool is created.
//
// Batches are serialised: Run, Resize and Close wait for a running batch.
//
// Thread safety: Executor is safe for concurrent use.
type Executor[T any] struct {
	mu      sync.Mutex
	threads int
	pool    *WorkerPool
	closed  bool
	logger  *slog.Logger
}

// NewExecutor creates an executor with n threads.
// A nil logger discards log output.
func NewExecutor[T any](n int, logger *slog.Logger) *Executor[T] {
	if n <= 0 {
		n = DefaultThreads
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor[T]{threads: n, logger: logger}
}

// Threads returns the configured thread count.
func (e *Executor[T]) Threads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threads
}

// Resize changes the thread count. The current workers are stopped and a
// new pool is created by the next parallel batch.
func (e *Executor[T]) Resize(n int) error {
	if n <= 0 {
		return fmt.Errorf("parallel: invalid thread count %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if n == e.threads {
		return nil
	}
	e.stopPool()
	e.threads = n
	return nil
}

// Run executes tasks and returns their results in submission order.
//
// If ctx is cancelled, tasks that have not started are skipped and Run
// returns ctx.Err() with no results.
func (e *Executor[T]) Run(ctx context.Context, tasks []Task[T]) ([]T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]T, len(tasks))

	if e.threads == 1 || len(tasks) <= 1 {
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = e.call(ctx, i, task)
		}
		return results, nil
	}

	if e.pool == nil {
		e.pool = NewWorkerPool(e.threads)
		e.logger.Debug("parallel: worker pool started", "threads", e.threads)
	}

	work := make([]func(), len(tasks))
	for i, task := range tasks {
		work[i] = func() {
			if ctx.Err() != nil {
				return
			}
			results[i] = e.call(ctx, i, task)
		}
	}
	if !e.pool.ExecuteAll(work) {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// call runs one task, converting a panic into the zero value.
func (e *Executor[T]) call(ctx context.Context, index int, task Task[T]) (result T) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("parallel: task panicked",
				"index", index,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			var zero T
			result = zero
		}
	}()
	if task == nil {
		var zero T
		return zero
	}
	return task(ctx)
}

// Close stops the workers. Run returns ErrClosed afterwards.
// Close is safe to call multiple times.
func (e *Executor[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.stopPool()
}

// stopPool closes the current pool. e.mu must be held.
func (e *Executor[T]) stopPool() {
	if e.pool == nil {
		return
	}
	e.pool.Close()
	e.pool = nil
	e.logger.Debug("parallel: worker pool stopped")
}

// running reports whether a worker pool currently exists.
func (e *Executor[T]) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool != nil
}
