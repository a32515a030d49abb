// Package sync provides synchronization primitive implementations for
// spinlocks guarding data shared between threads and interrupt handlers.
package sync

import "sync/atomic"

// yieldFn is called by archAcquireSpinlock once a spin has retried
// attemptsBeforeYielding times without acquiring the lock. It defaults to a
// no-op (busy-wait only) until SetYieldFn wires it to the scheduler's Yield,
// which kernel/boot does once a Scheduler exists.
var yieldFn = func() {}

// SetYieldFn installs the function archAcquireSpinlock calls when a spin is
// taking long enough that the current thread should give up its quantum
// instead of burning cycles. Passing nil restores the no-op default.
func SetYieldFn(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the lock.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
