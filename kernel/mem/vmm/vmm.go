// Package vmm implements a two-level, 32-bit x86 paging subsystem: a
// per-address-space PageTable with on-demand page population and a
// recursive self-map that makes every page-table entry reachable through a
// fixed virtual window once paging is enabled.
package vmm

import (
	"reflect"
	"teachos/kernel"
	"teachos/kernel/config"
	"teachos/kernel/cpu"
	"teachos/kernel/kfmt"
	"teachos/kernel/mem"
	"teachos/kernel/mem/pmm"
	"unsafe"
)

const recursiveWindowBase = uintptr(config.RecursiveEntryIndex) << 22

var (
	errProtectionFault = &kernel.Error{Module: "vmm", Message: "protection fault"}
	errInvalidFault    = &kernel.Error{Module: "vmm", Message: "invalid fault: address claimed by no VM pool"}
	errOutOfFrames     = &kernel.Error{Module: "vmm", Message: "page fault: process frame pool exhausted"}

	// WriteCR3Fn is exported, unlike the other hardware seams below,
	// because Load is called from other packages' tests (thread, sched)
	// that have no other way to keep PageTable.Load from reaching
	// cpu.WriteCR3, which has no real Go body.
	WriteCR3Fn = cpu.WriteCR3
	readCR0Fn  = cpu.ReadCR0
	writeCR0Fn = cpu.WriteCR0
	readCR2Fn  = cpu.ReadCR2

	// pteAddressFn resolves the virtual address of the PTE that translates
	// va. By default this is the recursive self-map formula, which only
	// resolves to something meaningful once paging is active; tests
	// without a real MMU override it to reach into their own fake page
	// tables instead.
	pteAddressFn = pteAddress

	kernelPool  *pmm.Pool
	processPool *pmm.Pool

	kernelDirFrame   pmm.Frame
	sharedLowMemSize mem.Size
	kernelPoolList   []Legitimizer

	current *PageTable
)

// Legitimizer answers whether a virtual address belongs to it. vmpool.Pool
// is the only implementation; the interface lives here, rather than in
// vmpool, so the fault handler can consult registered pools without vmm
// importing vmpool.
type Legitimizer interface {
	IsLegitimate(addr uintptr) bool
}

// Stats tracks per-PageTable page-fault activity, surfaced at Destroy time
// for diagnostics.
type Stats struct {
	FaultsServiced  uint32
	FramesHandedOut uint32
}

// PageTable is a single address space's two-level translation structure.
type PageTable struct {
	dirFrame pmm.Frame
	isKernel bool
	pools    []Legitimizer
	stats    Stats
}

// InitPaging records the pools and shared low-memory size that every
// PageTable construction and fault thereafter will use. It must be called
// exactly once, before the kernel PageTable is constructed.
func InitPaging(kp, pp *pmm.Pool, lowMemSize mem.Size) {
	kernelPool = kp
	processPool = pp
	sharedLowMemSize = lowMemSize
}

func overlayEntries(addr uintptr, count int) []pageEntry {
	return *(*[]pageEntry)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  count,
		Cap:  count,
	}))
}

func readEntry(addr uintptr) pageEntry {
	return *(*pageEntry)(unsafe.Pointer(addr))
}

func writeEntry(addr uintptr, e pageEntry) {
	*(*pageEntry)(unsafe.Pointer(addr)) = e
}

func (pt *PageTable) dirEntries() []pageEntry {
	return overlayEntries(pt.dirFrame.Address(), 1024)
}

// NewKernelPageTable constructs the first PageTable. Its directory lives in
// the kernel frame pool; its first 256 entries eagerly map the shared
// kernel range and identity-map the first sharedLowMemSize bytes. This must
// run before paging is enabled, since the frames it populates are touched
// via their raw physical addresses.
func NewKernelPageTable() *PageTable {
	dirFrame := kernelPool.GetFrames(1)
	pt := &PageTable{dirFrame: dirFrame, isKernel: true}
	kernel.Memset(dirFrame.Address(), 0, uintptr(mem.PageSize))

	dir := pt.dirEntries()
	for i := 0; i < config.SharedPDECount; i++ {
		ptFrame := processPool.GetFrames(1)
		kernel.Memset(ptFrame.Address(), 0, uintptr(mem.PageSize))

		ptes := overlayEntries(ptFrame.Address(), 1024)
		for j := range ptes {
			ptes[j] = notPresentRW
		}
		dir[i] = newPageEntry(ptFrame, flagPresent|flagRW)
	}

	identityBytes := uintptr(sharedLowMemSize)
	for addr := uintptr(0); addr < identityBytes; addr += uintptr(mem.PageSize) {
		pdIndex := (addr >> 22) & 0x3ff
		ptIndex := (addr >> 12) & 0x3ff
		ptFrame := dir[pdIndex].frame()
		ptes := overlayEntries(ptFrame.Address(), 1024)
		ptes[ptIndex] = pageEntry(addr) | pageEntry(flagPresent|flagRW)
	}

	dir[config.RecursiveEntryIndex] = newPageEntry(dirFrame, flagPresent|flagRW)

	kernelDirFrame = dirFrame
	return pt
}

// NewPageTable constructs a non-kernel PageTable: a fresh directory frame
// (also drawn from the kernel pool, so it stays directly addressable),
// sharing PDEs 0..255 with the kernel directory and installing its own
// recursive entry at PDE 255.
func NewPageTable() *PageTable {
	dirFrame := kernelPool.GetFrames(1)
	pt := &PageTable{dirFrame: dirFrame}

	kernel.Memcopy(kernelDirFrame.Address(), dirFrame.Address(), uintptr(mem.PageSize))
	dir := pt.dirEntries()
	dir[config.RecursiveEntryIndex] = newPageEntry(dirFrame, flagPresent|flagRW)

	return pt
}

// Load makes pt the active address space by writing its directory's
// physical address into cr3. Idempotent when pt is already active.
func (pt *PageTable) Load() {
	if current == pt {
		return
	}
	WriteCR3Fn(uint32(pt.dirFrame.Address()))
	current = pt
}

// EnablePaging sets the paging bit in cr0. Called once, after the kernel
// PageTable has been constructed and loaded.
func EnablePaging() {
	writeCR0Fn(readCR0Fn() | 0x80000000)
}

// RegisterPool attaches a Legitimizer (a vmpool.Pool) to pt: the kernel
// list if pt is the kernel PageTable, otherwise pt's own per-address-space
// list.
func (pt *PageTable) RegisterPool(l Legitimizer) {
	if pt.isKernel {
		kernelPoolList = append(kernelPoolList, l)
		return
	}
	pt.pools = append(pt.pools, l)
}

func isLegitimate(addr uintptr) bool {
	for _, l := range kernelPoolList {
		if l.IsLegitimate(addr) {
			return true
		}
	}
	if current != nil {
		for _, l := range current.pools {
			if l.IsLegitimate(addr) {
				return true
			}
		}
	}
	return false
}

// HandleFault services a page fault on the currently active PageTable.
// errCode is the hardware error code pushed by the CPU; its low bit
// distinguishes a protection violation from a not-present fault. The
// faulting address itself is read from cr2.
func HandleFault(errCode uint32) *kernel.Error {
	faultAddr := uintptr(readCR2Fn())

	if errCode&0x1 != 0 {
		kfmt.Printf("[vmm] protection fault at %x\n", faultAddr)
		return errProtectionFault
	}

	if !isLegitimate(faultAddr) {
		kfmt.Printf("[vmm] invalid fault at %x\n", faultAddr)
		return errInvalidFault
	}

	pt := current
	pdIndex := (faultAddr >> 22) & 0x3ff
	pdeAddr := pt.dirFrame.Address() + pdIndex*4
	if pde := readEntry(pdeAddr); !pde.present() {
		ptFrame := processPool.GetFrames(1)
		if ptFrame == 0 {
			kfmt.Printf("[vmm] %s\n", errOutOfFrames.Message)
			return errOutOfFrames
		}
		writeEntry(pdeAddr, newPageEntry(ptFrame, flagPresent|flagRW))

		ptBase := recursivePTBase(pdIndex)
		kernel.Memset(ptBase, 0, uintptr(mem.PageSize))
		for i := uintptr(0); i < 1024; i++ {
			writeEntry(ptBase+i*4, notPresentRW)
		}
	}

	pteAddr := pteAddressFn(faultAddr)
	if pte := readEntry(pteAddr); !pte.present() {
		frame := processPool.GetFrames(1)
		if frame == 0 {
			kfmt.Printf("[vmm] %s\n", errOutOfFrames.Message)
			return errOutOfFrames
		}
		writeEntry(pteAddr, newPageEntry(frame, flagPresent|flagRW))
		pt.stats.FramesHandedOut++
	}

	pt.stats.FaultsServiced++
	return nil
}

// pteAddress computes the recursive-mapping virtual address of the PTE that
// translates va: (0x3FC0_0000 | (va >> 10)) & ~0x3.
func pteAddress(va uintptr) uintptr {
	return (recursiveWindowBase | (va >> 10)) &^ 0x3
}

// recursivePTBase is pteAddress evaluated at the first virtual address
// described by the secondary page table at PDE index pdIndex -- the base
// of that page table's own 4KiB worth of entries inside the recursive
// window.
func recursivePTBase(pdIndex uintptr) uintptr {
	return pteAddressFn(pdIndex << 22)
}

// FreePage releases the frame backing addr (a no-op if it was never
// faulted in), clears its PTE, and flushes the TLB by reloading cr3.
func (pt *PageTable) FreePage(addr uintptr) {
	pteAddr := pteAddressFn(addr)
	pte := readEntry(pteAddr)
	if !pte.present() {
		return
	}

	pmm.ReleaseFrames(pte.frame())
	writeEntry(pteAddr, notPresentRW)
	WriteCR3Fn(uint32(pt.dirFrame.Address()))
}

// Destroy reclaims pt's non-shared secondary page tables and its own
// directory frame. User-space PTE frames are not walked here; the caller
// must release its VM pools first so their pages are already drained via
// FreePage.
func (pt *PageTable) Destroy() {
	dir := pt.dirEntries()
	for i := config.SharedPDECount; i < 1024; i++ {
		if i == config.RecursiveEntryIndex {
			continue
		}
		if e := dir[i]; e.present() {
			pmm.ReleaseFrames(e.frame())
		}
	}

	kfmt.Printf("[vmm] page table destroyed: %d faults serviced, %d frames handed out\n",
		pt.stats.FaultsServiced, pt.stats.FramesHandedOut)

	pmm.ReleaseFrames(pt.dirFrame)
	if current == pt {
		current = nil
	}

	WriteCR3Fn(uint32(kernelDirFrame.Address()))
}

// Stats returns a snapshot of pt's fault-servicing counters.
func (pt *PageTable) Stats() Stats {
	return pt.stats
}
