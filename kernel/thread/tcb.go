// Package thread implements kernel thread control blocks: stack ownership,
// initial context fabrication shaped like a hardware interrupt frame (so a
// generic context-switch trampoline can restore it uniformly), and
// dispatch.
package thread

import (
	"reflect"
	"teachos/kernel"
	"teachos/kernel/config"
	"teachos/kernel/cpu"
	"teachos/kernel/kctx"
	"teachos/kernel/mem"
	"teachos/kernel/mem/pmm"
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
	"teachos/kernel/sync"
)

// Func is a thread's entry point.
type Func func()

var (
	idLock sync.Spinlock
	nextID uint32

	// shutdownHook is the function whose address is baked into every
	// fabricated context as the thread's return address. It defaults to a
	// no-op; the scheduler overrides it at boot with its own
	// terminate-self routine via SetShutdownHook, since thread cannot
	// import sched without a cycle.
	shutdownHook Func = func() {}

	// SwitchFn is the low-level context-switch trampoline DispatchTo
	// calls through. It defaults to cpu.SwitchTo, which has no real
	// Go body (it is backed by an assembly stub this repo does not
	// provide); tests in any package override it to a fake that just
	// records the switch instead of touching a real stack.
	SwitchFn = cpu.SwitchTo
)

// SetShutdownHook installs the function every subsequently constructed
// thread returns into when its own Func returns.
func SetShutdownHook(fn Func) {
	shutdownHook = fn
}

// TCB is a kernel thread control block.
type TCB struct {
	// sp must remain the first field: the context-switch trampoline
	// reads and writes it at a fixed offset with no knowledge of Go
	// struct layout otherwise.
	sp uintptr

	id uint32

	stackBase uintptr
	stackSize mem.Size

	// Cargo is the ad-hoc single-slot mailbox terminate uses to hand a
	// doomed thread to the termination trampoline, which cannot receive
	// an argument the normal way since it is reached via a raw context
	// switch rather than a call.
	Cargo *TCB

	pt     *vmm.PageTable
	ownsPT bool
	vmp    *vmpool.Pool

	// Next threads this TCB into the scheduler's singly-linked ready
	// queue. Exported so package sched can manage the queue directly,
	// the way the spec describes it: a list "threaded through TCBs".
	Next *TCB
}

// ID returns this thread's process-wide unique identifier.
func (t *TCB) ID() uint32 { return t.id }

func allocID() uint32 {
	idLock.Acquire()
	defer idLock.Release()
	nextID++
	return nextID
}

func startShim() {
	cpu.EnableInterrupts()
}

func funcAddr(fn Func) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// fabricateContext pushes the initial interrupt-frame-shaped context spec'd
// for a freshly constructed thread, in the documented order, and returns
// the resulting stack pointer.
func fabricateContext(stackTop uintptr, fn Func) uintptr {
	b := stackBuilder{cursor: stackTop}

	b.push(0) // 1. dummy argument word
	b.push(uint32(funcAddr(shutdownHook)))
	b.push(uint32(funcAddr(fn)))
	b.push(0) // 4. EFLAGS with IF clear
	b.push(config.KernelCodeSelector)
	b.push(uint32(funcAddr(startShim)))
	b.push(0) // 6. fake error code
	b.push(0) // fake interrupt number
	for i := 0; i < 8; i++ {
		b.push(0) // 7. eax, ecx, edx, ebx, esp, ebp, esi, edi
	}
	b.push(config.KernelDataSelector) // 8. ds
	b.push(config.KernelDataSelector) // es
	b.push(0)                         // fs
	b.push(0)                         // gs

	return b.cursor
}

// New constructs a thread with its own address space: a fresh PageTable and
// a VM Pool covering the per-thread user window, with the stack allocated
// inside that pool.
func New(fn Func, stackSize mem.Size, cfp *pmm.Pool) (*TCB, *kernel.Error) {
	pt := vmm.NewPageTable()
	pt.Load()

	vmp, err := vmpool.New(uintptr(config.UserVMPoolBase), config.UserVMPoolSize, cfp, pt)
	if err != nil {
		return nil, err
	}

	t, terr := build(fn, stackSize, vmp)
	if terr != nil {
		return nil, terr
	}
	t.pt = pt
	t.ownsPT = true
	t.vmp = vmp

	return t, nil
}

// NewWithSharedPT constructs a thread against the existing kernel PageTable
// and a caller-provided VM Pool, rather than a fresh address space.
func NewWithSharedPT(fn Func, stackSize mem.Size, pt *vmm.PageTable, vmp *vmpool.Pool) (*TCB, *kernel.Error) {
	t, terr := build(fn, stackSize, vmp)
	if terr != nil {
		return nil, terr
	}
	t.pt = pt
	t.ownsPT = false
	t.vmp = vmp

	return t, nil
}

func build(fn Func, stackSize mem.Size, vmp *vmpool.Pool) (*TCB, *kernel.Error) {
	kernelVMP := kctx.CurrentVMP
	kctx.CurrentVMP = vmp

	stackBase, err := vmp.Allocate(stackSize)
	if err != nil {
		kctx.CurrentVMP = kernelVMP
		return nil, err
	}

	t := &TCB{
		id:        allocID(),
		stackBase: stackBase,
		stackSize: stackSize,
	}
	stackTop := stackBase + uintptr(stackSize)
	t.sp = fabricateContext(stackTop, fn)

	kctx.CurrentVMP = kernelVMP
	return t, nil
}

// Destroy loads t's PageTable so its stack is reachable, releases the
// stack, then restores the kernel PageTable and VM Pool.
func (t *TCB) Destroy() {
	t.pt.Load()
	kctx.CurrentVMP = t.vmp

	t.vmp.Release(t.stackBase)

	kctx.KernelPT.Load()
	kctx.CurrentVMP = kctx.KernelVMP

	if t.ownsPT {
		t.pt.Destroy()
	}
}

// DispatchTo switches execution from prev (nil if no thread was previously
// running on this stack, e.g. the very first dispatch at boot) to next via
// the low-level context-switch trampoline. prev's stack pointer slot is
// where the trampoline records its outgoing sp, so that some future
// DispatchTo targeting prev resumes right after this call returns.
func DispatchTo(prev, next *TCB) {
	next.pt.Load()
	kctx.CurrentPT = next.pt
	kctx.CurrentVMP = next.vmp

	var discard uintptr
	slot := &discard
	if prev != nil {
		slot = &prev.sp
	}
	SwitchFn(slot, next.sp)
}
