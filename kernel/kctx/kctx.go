// Package kctx holds the small set of process-wide, explicit kernel-context
// globals that would otherwise be scattered ad-hoc across the memory and
// scheduling subsystems: which PageTable and VM Pool are active right now,
// and the kernel's own PageTable/Pool for restoring them. Centralizing this
// state (rather than letting vmm, vmpool, thread, and sched each keep their
// own notion of "current") is what keeps the invariant in one place: after
// any top-level operation returns to thread code, CurrentVMP matches
// CurrentPT.
package kctx

import (
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
)

var (
	// KernelPT is the first PageTable constructed at boot.
	KernelPT *vmm.PageTable
	// KernelVMP is the VM Pool registered against KernelPT at boot.
	KernelVMP *vmpool.Pool

	// CurrentPT is the PageTable of the thread presently running.
	CurrentPT *vmm.PageTable
	// CurrentVMP is the VM Pool of the thread presently running.
	CurrentVMP *vmpool.Pool
)
