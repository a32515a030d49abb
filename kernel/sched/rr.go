package sched

import (
	"teachos/kernel"
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
)

// RRScheduler adds preemptive round-robin quantum expiry on top of
// Scheduler's cooperative FIFO.
type RRScheduler struct {
	*Scheduler

	hz    uint32
	ticks uint32
}

// NewRR constructs an RRScheduler with the given quantum, expressed in
// timer ticks.
func NewRR(kernelPT *vmm.PageTable, kernelVMP *vmpool.Pool, hz uint32) (*RRScheduler, *kernel.Error) {
	base, err := New(kernelPT, kernelVMP)
	if err != nil {
		return nil, err
	}
	return &RRScheduler{Scheduler: base, hz: hz}, nil
}

// Ticks returns the current quantum tick count, for tests to assert
// against without peeking at unexported state.
func (r *RRScheduler) Ticks() uint32 {
	return r.ticks
}

// Yield resets the quantum tick counter in addition to the base FIFO
// yield, so a thread that voluntarily yields does not forfeit the next
// full quantum.
func (r *RRScheduler) Yield() {
	r.ticks = 0
	r.Scheduler.Yield()
}

// EOQTimer is the per-tick handler for the timer interrupt. Neither this
// package nor kernel/boot registers it with any interrupt vector. It only
// counts ticks once the scheduler has dispatched its first thread; on
// reaching the configured quantum it re-enqueues the running thread and
// yields.
func (r *RRScheduler) EOQTimer() {
	if !r.started {
		return
	}

	r.ticks++
	if r.ticks < r.hz {
		return
	}

	r.ticks = 0
	cur := r.running
	r.Add(cur)
	r.Yield()
}
