// +build 386

// Package config holds the boot-time constants that describe this machine's
// physical and virtual memory layout. There is no filesystem yet to read a
// config file from, so -- like the teacher's architecture-specific constants
// files -- these are plain exported constants selected by build tag.
package config

import "teachos/kernel/mem"

const (
	// KernelPoolBaseFrame is the first frame of the kernel frame pool.
	KernelPoolBaseFrame = (2 * mem.Mb) / mem.PageSize
	// KernelPoolFrameCount covers [2MiB, 4MiB).
	KernelPoolFrameCount = (2 * mem.Mb) / mem.PageSize

	// ProcessPoolBaseFrame is the first frame of the process frame pool.
	ProcessPoolBaseFrame = (4 * mem.Mb) / mem.PageSize
	// ProcessPoolFrameCount covers [4MiB, 32MiB).
	ProcessPoolFrameCount = (28 * mem.Mb) / mem.PageSize

	// MemHoleStartFrame is the first frame of the inaccessible hole carved
	// out of the process pool at boot.
	MemHoleStartFrame = (15 * mem.Mb) / mem.PageSize
	// MemHoleFrameCount covers [15MiB, 16MiB).
	MemHoleFrameCount = (1 * mem.Mb) / mem.PageSize

	// SharedLowMemSize is the size of the identity-mapped, eagerly
	// provisioned kernel range shared by every address space.
	SharedLowMemSize = 4 * mem.Mb

	// KernelWindowSize is the size of the shared kernel virtual range,
	// described by PDEs 0..255.
	KernelWindowSize = 1024 * mem.Mb

	// UserVMPoolBase is the start of a per-thread VM pool window.
	UserVMPoolBase = 1024 * mem.Mb
	// UserVMPoolSize is the size of a per-thread VM pool window.
	UserVMPoolSize = 64 * mem.Mb

	// KernelVMPoolTestBase is the single-PT variant's kernel VM pool test
	// window.
	KernelVMPoolTestBase = 512 * mem.Mb
	// KernelVMPoolTestSize is the size of that window.
	KernelVMPoolTestSize = 256 * mem.Mb

	// RecursiveEntryIndex is the page-directory index that holds the
	// recursive self-map.
	RecursiveEntryIndex = 255

	// SharedPDECount is the number of page-directory entries shared
	// verbatim across every address space (PDEs 0..255).
	SharedPDECount = 256

	// RRQuantumTicks is a round-robin quantum, expressed in timer ticks.
	// No code reads it: sched.NewRR takes its quantum from the caller,
	// and boot.Config.QuantumTicks == 0 selects the FIFO scheduler.
	RRQuantumTicks = 10

	// KernelCodeSelector and KernelDataSelector are the flat GDT
	// selectors a fabricated thread context is started with. GDT
	// construction itself is an external collaborator; these constants
	// only need to agree with whatever flat layout it installs.
	KernelCodeSelector = 0x08
	KernelDataSelector = 0x10
)
