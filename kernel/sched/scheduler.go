// Package sched implements the ready-queue scheduler: a strict-FIFO queue
// of runnable threads, yield/resume/terminate, and a round-robin variant
// that preempts from a periodic timer tick.
package sched

import (
	"teachos/kernel"
	"teachos/kernel/mem"
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
	"teachos/kernel/sync"
	"teachos/kernel/thread"
)

const terminationStackSize = 4 * mem.Kb

// Scheduler is a strict-FIFO ready queue with cooperative yield/resume and
// deferred self-termination via a dedicated termination thread.
type Scheduler struct {
	head, tail *thread.TCB
	running    *thread.TCB
	started    bool

	termThread *thread.TCB

	kernelPT  *vmm.PageTable
	kernelVMP *vmpool.Pool
}

// New constructs a Scheduler and its termination trampoline thread. It must
// be called while the kernel PageTable/VM Pool are current, since the
// termination thread is built against them.
func New(kernelPT *vmm.PageTable, kernelVMP *vmpool.Pool) (*Scheduler, *kernel.Error) {
	s := &Scheduler{
		kernelPT:  kernelPT,
		kernelVMP: kernelVMP,
	}

	term, err := thread.NewWithSharedPT(s.terminationLoop, terminationStackSize, kernelPT, kernelVMP)
	if err != nil {
		return nil, err
	}
	s.termThread = term

	thread.SetShutdownHook(s.selfTerminate)
	return s, nil
}

// Start performs the very first dispatch at boot, after interrupts have
// been enabled.
func (s *Scheduler) Start(first *thread.TCB) {
	s.running = first
	s.started = true
	thread.DispatchTo(nil, first)
}

// Running returns the thread currently dispatched, or nil before Start.
func (s *Scheduler) Running() *thread.TCB {
	return s.running
}

func (s *Scheduler) enqueue(t *thread.TCB) {
	t.Next = nil
	if s.tail == nil {
		s.head, s.tail = t, t
		return
	}
	s.tail.Next = t
	s.tail = t
}

func (s *Scheduler) dequeue() *thread.TCB {
	if s.head == nil {
		return nil
	}
	t := s.head
	s.head = t.Next
	if s.head == nil {
		s.tail = nil
	}
	t.Next = nil
	return t
}

func (s *Scheduler) unlink(t *thread.TCB) {
	if s.head == t {
		s.head = t.Next
		if s.head == nil {
			s.tail = nil
		}
		t.Next = nil
		return
	}
	for cur := s.head; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			if s.tail == t {
				s.tail = cur
			}
			t.Next = nil
			return
		}
	}
}

// Add enqueues t at the tail of the ready queue. Resume is an alias: the
// spec draws no distinction between adding a brand-new thread and resuming
// one that previously yielded off the queue.
func (s *Scheduler) Add(t *thread.TCB) {
	g := sync.EnterCritical()
	s.enqueue(t)
	g.Exit()
}

// Resume is Add under another name.
func (s *Scheduler) Resume(t *thread.TCB) {
	s.Add(t)
}

// Yield dequeues the next ready thread and dispatches to it. If the queue
// is empty the caller keeps running. Yielding does not re-enqueue the
// caller -- a thread that wants to run again must Add itself (or be
// re-added by RRScheduler's quantum-expiry path) before yielding.
func (s *Scheduler) Yield() {
	g := sync.EnterCritical()
	next := s.dequeue()
	if next == nil {
		g.Exit()
		return
	}

	prev := s.running
	s.running = next
	thread.DispatchTo(prev, next)
	g.Exit()
}

// Terminate destroys t. If t is the currently running thread, it cannot
// tear down its own stack, so it is stashed in the termination thread's
// cargo slot and control is handed to the trampoline instead; the running
// thread never reaches the matching Exit, consistent with its stack being
// about to disappear. If t is merely queued, it is unlinked and destroyed
// directly.
func (s *Scheduler) Terminate(t *thread.TCB) {
	g := sync.EnterCritical()

	if t == s.running {
		s.termThread.Cargo = t
		prev := s.running
		s.running = s.termThread
		thread.DispatchTo(prev, s.termThread)
		return
	}

	s.unlink(t)
	g.Exit()
	t.Destroy()
}

// selfTerminate is installed as the process-wide thread shutdown hook: when
// a thread's Func returns normally, control is modeled as landing here,
// terminating whichever thread is presently running.
func (s *Scheduler) selfTerminate() {
	s.Terminate(s.running)
}

// terminationLoop is the termination thread's body: service one stashed
// victim, then yield, forever.
func (s *Scheduler) terminationLoop() {
	for {
		doomed := s.termThread.Cargo
		s.termThread.Cargo = nil
		if doomed != nil {
			doomed.Destroy()
		}
		s.Yield()
	}
}
