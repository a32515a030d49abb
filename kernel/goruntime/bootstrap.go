// Package goruntime bootstraps Go runtime features (heap allocation, maps,
// interfaces) on top of this kernel's own virtual memory machinery.
// sysReserve/sysMap/sysAlloc route through the currently active VM Pool
// instead of a hosted OS's mmap; actual physical backing is always
// demand-paged in later by vmm.HandleFault, so none of these loop over
// pages installing PTEs the way the allocator would on a hosted OS.
package goruntime

import (
	"teachos/kernel"
	"teachos/kernel/kctx"
	"teachos/kernel/mem"
	"unsafe"
)

var (
	reserveFn = reserveRegion

	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

func roundUpToPage(size mem.Size) mem.Size {
	return size.RoundUpToPage()
}

// reserveRegion reserves regionSize bytes of virtual address space from the
// currently active VM Pool without backing any of it with physical frames.
func reserveRegion(regionSize mem.Size) (uintptr, *kernel.Error) {
	return kctx.CurrentVMP.Allocate(regionSize)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := roundUpToPage(mem.Size(size))
	regionStartAddr, err := reserveFn(regionSize)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap finalizes a mapping for a region previously reserved via
// sysReserve. The region's virtual range is already claimed by the current
// VM Pool from that earlier reservation; there are no page tables to
// populate here, since vmm.HandleFault backs each page the first time it is
// actually touched.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	regionSize := roundUpToPage(mem.Size(size))
	mSysStatInc(sysStat, uintptr(regionSize))
	return virtAddr
}

// sysAlloc reserves enough virtual address space to satisfy the allocation
// request and returns its start address. As with sysMap, physical frames
// are handed out lazily by the fault handler rather than eagerly here.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := roundUpToPage(mem.Size(size))
	regionStartAddr, err := reserveFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// nanotime returns a monotonically increasing clock value. This is a dummy
// implementation and will be replaced when the timekeeper package is
// implemented.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The runtime
// package normally reads a random stream from /dev/random but since this is
// not available, a PRNG is used instead.
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to Init
// the following runtime features become available for use:
//  - heap memory allocation (new, make, etc.)
//  - map primitives
//  - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
