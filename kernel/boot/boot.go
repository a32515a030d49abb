// Package boot sequences kernel bring-up: the exact order spec.md's external
// interfaces section calls out as load-bearing, encoded as a single ordered
// slice of named steps so the order itself is visible and testable rather
// than implicit in a long imperative function.
package boot

import (
	"teachos/kernel"
	"teachos/kernel/config"
	"teachos/kernel/cpu"
	"teachos/kernel/goruntime"
	"teachos/kernel/irq"
	"teachos/kernel/kctx"
	"teachos/kernel/kfmt"
	"teachos/kernel/mem"
	"teachos/kernel/mem/pmm"
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
	"teachos/kernel/sched"
	"teachos/kernel/sync"
	"teachos/kernel/thread"
)

// step is one named stage of the boot sequence. Stages whose real
// implementation is an external collaborator out of scope for this repo
// (GDT, console, IDT, exception/IRQ dispatcher construction) are recorded
// as no-op placeholders rather than silently omitted, so the documented
// order stays complete and inspectable.
type step struct {
	name string
	run  func(b *boot) *kernel.Error
}

// Config supplies the caller-specific pieces of the boot sequence: the
// thread a fresh system should start running, plus an optional scheduler
// quantum (0 selects the plain FIFO Scheduler instead of RRScheduler).
type Config struct {
	FirstThread  thread.Func
	StackSize    mem.Size
	QuantumTicks uint32
}

// boot accumulates the state successive steps build on.
type boot struct {
	cfg Config

	kernelCFP  *pmm.Pool
	processCFP *pmm.Pool

	kernelPT  *vmm.PageTable
	kernelVMP *vmpool.Pool

	scheduler   *sched.Scheduler
	rr          *sched.RRScheduler
	firstThread *thread.TCB
}

var steps = []step{
	{"gdt", externalCollaborator},
	{"console", externalCollaborator},
	{"idt", externalCollaborator},
	{"exception_dispatcher", externalCollaborator},
	{"irq", externalCollaborator},
	{"interrupt_dispatcher", externalCollaborator},
	{"register_handlers", registerHandlers},
	{"kernel_cfp", constructKernelCFP},
	{"process_cfp", constructProcessCFP},
	{"mark_inaccessible", markHoleInaccessible},
	{"init_paging", initPaging},
	{"kernel_pt", constructKernelPT},
	{"load", loadKernelPT},
	{"enable_paging", enablePaging},
	{"kernel_vmp", constructKernelVMP},
	{"goruntime_init", initGoruntime},
	{"scheduler", constructScheduler},
	{"first_thread", constructFirstThread},
	{"enable_interrupts", enableInterrupts},
	{"dispatch_first", dispatchFirst},
}

// Boot runs every step in order, stopping at (and returning) the first
// error. cfg.FirstThread is the function the system dispatches to once the
// whole sequence completes.
func Boot(cfg Config) *kernel.Error {
	b := &boot{cfg: cfg}
	for _, s := range steps {
		if err := s.run(b); err != nil {
			kfmt.Printf("[boot] step %q failed: %s\n", s.name, err.Message)
			return err
		}
	}
	return nil
}

// externalCollaborator stands in for a boot stage this repo treats as an
// out-of-scope hardware collaborator (GDT/IDT/IRQ-chip construction, a
// console driver): spec.md names these as required steps in the sequence
// without specifying their implementation.
func externalCollaborator(b *boot) *kernel.Error {
	return nil
}

func registerHandlers(b *boot) *kernel.Error {
	irq.HandleExceptionWithCode(irq.PageFaultException, func(errCode uint32, _ *irq.Frame, _ *irq.Regs) {
		vmm.HandleFault(errCode)
	})
	return nil
}

func constructKernelCFP(b *boot) *kernel.Error {
	b.kernelCFP = pmm.NewPool(pmm.Frame(config.KernelPoolBaseFrame), uint32(config.KernelPoolFrameCount), 0)
	return nil
}

func constructProcessCFP(b *boot) *kernel.Error {
	b.processCFP = pmm.NewPool(pmm.Frame(config.ProcessPoolBaseFrame), uint32(config.ProcessPoolFrameCount), 0)
	return nil
}

func markHoleInaccessible(b *boot) *kernel.Error {
	b.processCFP.MarkInaccessible(pmm.Frame(config.MemHoleStartFrame), uint32(config.MemHoleFrameCount))
	return nil
}

func initPaging(b *boot) *kernel.Error {
	vmm.InitPaging(b.kernelCFP, b.processCFP, config.SharedLowMemSize)
	return nil
}

func constructKernelPT(b *boot) *kernel.Error {
	b.kernelPT = vmm.NewKernelPageTable()
	kctx.KernelPT = b.kernelPT
	return nil
}

func loadKernelPT(b *boot) *kernel.Error {
	b.kernelPT.Load()
	kctx.CurrentPT = b.kernelPT
	return nil
}

func enablePaging(b *boot) *kernel.Error {
	vmm.EnablePaging()
	return nil
}

func constructKernelVMP(b *boot) *kernel.Error {
	vmp, err := vmpool.New(uintptr(config.KernelVMPoolTestBase), config.KernelVMPoolTestSize, b.kernelCFP, b.kernelPT)
	if err != nil {
		return err
	}
	b.kernelVMP = vmp
	kctx.KernelVMP = vmp
	kctx.CurrentVMP = vmp
	return nil
}

func initGoruntime(b *boot) *kernel.Error {
	return goruntime.Init()
}

func constructScheduler(b *boot) *kernel.Error {
	if b.cfg.QuantumTicks == 0 {
		s, err := sched.New(b.kernelPT, b.kernelVMP)
		if err != nil {
			return err
		}
		b.scheduler = s
		sync.SetYieldFn(s.Yield)
		return nil
	}

	rr, err := sched.NewRR(b.kernelPT, b.kernelVMP, b.cfg.QuantumTicks)
	if err != nil {
		return err
	}
	b.rr = rr
	b.scheduler = rr.Scheduler
	sync.SetYieldFn(b.scheduler.Yield)
	return nil
}

func constructFirstThread(b *boot) *kernel.Error {
	t, err := thread.NewWithSharedPT(b.cfg.FirstThread, b.cfg.StackSize, b.kernelPT, b.kernelVMP)
	if err != nil {
		return err
	}
	b.firstThread = t
	return nil
}

// enableInterrupts matches spec.md's documented boot order, though in
// practice every thread's fabricated context already re-enables interrupts
// itself via startShim the first time DispatchTo resumes into it -- this
// step exists so the sequence's own unit test can assert the order without
// needing to inspect a dispatched thread's internals.
func enableInterrupts(b *boot) *kernel.Error {
	cpu.EnableInterrupts()
	return nil
}

func dispatchFirst(b *boot) *kernel.Error {
	if b.rr != nil {
		b.rr.Start(b.firstThread)
	} else {
		b.scheduler.Start(b.firstThread)
	}
	return nil
}
