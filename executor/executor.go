// Package executor implements the Bounded Executor: an admission gate
// backed by a counting semaphore that caps the number of concurrently
// running tasks (sessions, in this module). It is grounded on the
// original bounded_executor.rs (BoundedExecutor over tokio::sync::Semaphore)
// and wired here on golang.org/x/sync/semaphore.Weighted, the Go
// ecosystem's equivalent weighted counting semaphore.
package executor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// MaxTheoreticalTasks is the practical maximum permit count, kept well
// within the semaphore's internal limits. Mirrors the Rust source's
// `usize::MAX >> 4`.
const MaxTheoreticalTasks = math.MaxInt64 >> 4

// ErrFull is returned by TrySpawn when no permit is immediately available.
var ErrFull = fmt.Errorf("executor: no permits available")

// BoundedExecutor caps the number of in-flight tasks spawned through it.
// A permit is acquired before a task starts and released exactly once,
// on every exit path, when the task's Run function returns.
type BoundedExecutor struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

// New constructs a BoundedExecutor with a fixed permit count.
func New(numPermits int64) *BoundedExecutor {
	if numPermits <= 0 {
		numPermits = MaxTheoreticalTasks
	}
	return &BoundedExecutor{
		sem: semaphore.NewWeighted(numPermits),
		max: numPermits,
	}
}

// AllowMaximum constructs a BoundedExecutor sized to MaxTheoreticalTasks,
// i.e. effectively unbounded admission control.
func AllowMaximum() *BoundedExecutor {
	return New(MaxTheoreticalTasks)
}

// MaxAvailable returns the total permit count (invariant over the
// executor's lifetime).
func (e *BoundedExecutor) MaxAvailable() int64 { return e.max }

// NumAvailable returns the current number of free permits. Use only for
// observability: there is no guarantee the value is still accurate by
// the time the caller acts on it.
func (e *BoundedExecutor) NumAvailable() int64 {
	// golang.org/x/sync/semaphore does not expose available weight
	// directly; TryAcquire/Release the full remaining budget would be
	// destructive, so available count is tracked alongside the semaphore.
	return e.max - e.inFlight.Load()
}

// CanSpawn reports whether at least one permit is currently available.
func (e *BoundedExecutor) CanSpawn() bool { return e.NumAvailable() > 0 }

// TrySpawn acquires a permit without waiting and, if one was free, runs
// fn in a new goroutine, releasing the permit when fn returns. It
// returns ErrFull immediately if no permit was free; it never blocks.
func (e *BoundedExecutor) TrySpawn(fn func(ctx context.Context)) error {
	return e.trySpawn(context.Background(), fn)
}

// TrySpawnContext is TrySpawn with an explicit context passed through to fn.
func (e *BoundedExecutor) TrySpawnContext(ctx context.Context, fn func(ctx context.Context)) error {
	return e.trySpawn(ctx, fn)
}

func (e *BoundedExecutor) trySpawn(ctx context.Context, fn func(ctx context.Context)) error {
	if !e.sem.TryAcquire(1) {
		return ErrFull
	}
	e.inFlight.Add(1)
	go e.run(ctx, fn)
	return nil
}

// Spawn waits (honoring ctx cancellation) for a permit, then runs fn in
// a new goroutine. It only returns an error if ctx is done before a
// permit became available; dropping ctx before Spawn returns releases
// no permit, since none was held yet.
func (e *BoundedExecutor) Spawn(ctx context.Context, fn func(ctx context.Context)) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	e.inFlight.Add(1)
	go e.run(ctx, fn)
	return nil
}

func (e *BoundedExecutor) run(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		e.inFlight.Add(-1)
		e.sem.Release(1)
	}()
	fn(ctx)
}
