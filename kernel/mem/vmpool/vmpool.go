// Package vmpool implements the per-address-space virtual-memory region
// allocator: a fixed-capacity, non-coalescing first-fit allocator carved out
// of a contiguous virtual window, with its own bookkeeping stored in the
// first two pages of that window.
package vmpool

import (
	"reflect"
	"teachos/kernel"
	"teachos/kernel/mem"
	"teachos/kernel/mem/pmm"
	"teachos/kernel/mem/vmm"
	"unsafe"
)

// Region describes a contiguous sub-range of a Pool's virtual window. A
// zero Size marks a slot as empty.
type Region struct {
	Base uintptr
	Size mem.Size
}

// MaxRegions is the capacity of the alloc[]/free[] arrays: however many
// Regions fit in one 4 KiB management page.
var MaxRegions = int(mem.PageSize) / int(unsafe.Sizeof(Region{}))

var (
	errInvalidSize   = &kernel.Error{Module: "vmpool", Message: "invalid size"}
	errNoFreeRegion  = &kernel.Error{Module: "vmpool", Message: "no free region large enough"}
	errNoAllocRegion = &kernel.Error{Module: "vmpool", Message: "alloc[] array is full"}
	errOOBAddr       = &kernel.Error{Module: "vmpool", Message: "address outside this pool's window"}
	errInvalidAddr   = &kernel.Error{Module: "vmpool", Message: "address is not an active allocation"}
)

// PageTable is the subset of *vmm.PageTable a Pool needs: enough to
// register itself as a Legitimizer and to drain pages on release. Accepting
// this instead of the concrete type lets tests exercise Pool without a real
// two-level page table (and the hardware it assumes) behind it.
type PageTable interface {
	RegisterPool(l vmm.Legitimizer)
	FreePage(addr uintptr)
}

// Pool is a per-address-space VM pool: a contiguous [base, base+size)
// virtual window, backed by a physical frame pool and registered against a
// page table so the fault handler can recognize accesses to it.
type Pool struct {
	base uintptr
	size mem.Size
	cfp  *pmm.Pool
	pt   PageTable

	alloc []Region
	free  []Region
}

func overlayRegions(addr uintptr, count int) []Region {
	return *(*[]Region)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  count,
		Cap:  count,
	}))
}

// New constructs a Pool over [base, base+size). size must exceed two page
// sizes, since the pool's own bookkeeping occupies the first two pages of
// its window. The pool registers itself with pt before touching those
// pages, so that the fault handler recognizes them when the zeroing below
// faults them in.
func New(base uintptr, size mem.Size, cfp *pmm.Pool, pt PageTable) (*Pool, *kernel.Error) {
	if size <= 2*mem.PageSize {
		return nil, errInvalidSize
	}

	p := &Pool{base: base, size: size, cfp: cfp, pt: pt}
	pt.RegisterPool(p)

	allocAddr := base
	freeAddr := base + uintptr(mem.PageSize)

	kernel.Memset(allocAddr, 0, uintptr(mem.PageSize))
	kernel.Memset(freeAddr, 0, uintptr(mem.PageSize))

	p.alloc = overlayRegions(allocAddr, MaxRegions)
	p.free = overlayRegions(freeAddr, MaxRegions)

	mgmtSize := 2 * mem.PageSize
	p.alloc[0] = Region{Base: base, Size: mgmtSize}
	p.free[0] = Region{Base: base + uintptr(mgmtSize), Size: size - mgmtSize}

	return p, nil
}

func roundUpToPage(size mem.Size) mem.Size {
	return size.RoundUpToPage()
}

// Allocate reserves a size-byte (rounded up to a page multiple) region via
// first-fit over free[], taking the lowest-addressed free region that is
// large enough, and returns its base address. Page tables are not
// touched here -- pages are demand-populated on first access by the fault
// handler.
func (p *Pool) Allocate(size mem.Size) (uintptr, *kernel.Error) {
	if size == 0 || size > p.size-2*mem.PageSize {
		return 0, errInvalidSize
	}

	adj := roundUpToPage(size)

	freeIdx := -1
	for i, r := range p.free {
		if r.Size != 0 && r.Size >= adj && (freeIdx == -1 || r.Base < p.free[freeIdx].Base) {
			freeIdx = i
		}
	}
	if freeIdx == -1 {
		return 0, errNoFreeRegion
	}

	allocIdx := -1
	for i, r := range p.alloc {
		if r.Size == 0 {
			allocIdx = i
			break
		}
	}
	if allocIdx == -1 {
		return 0, errNoAllocRegion
	}

	chosen := p.free[freeIdx]
	p.alloc[allocIdx] = Region{Base: chosen.Base, Size: adj}
	p.free[freeIdx] = Region{Base: chosen.Base + uintptr(adj), Size: chosen.Size - adj}

	return chosen.Base, nil
}

// Release returns the region starting at startAddr to free[] and calls
// FreePage for every page in it. Releases never coalesce adjacent free
// regions, so free[]'s capacity bounds how fragmented a long-lived pool can
// become.
func (p *Pool) Release(startAddr uintptr) *kernel.Error {
	if startAddr < p.base || startAddr >= p.base+uintptr(p.size) {
		return errOOBAddr
	}

	allocIdx := -1
	for i, r := range p.alloc {
		if r.Size != 0 && r.Base == startAddr {
			allocIdx = i
			break
		}
	}
	if allocIdx == -1 {
		return errInvalidAddr
	}

	region := p.alloc[allocIdx]

	freeIdx := -1
	for i, r := range p.free {
		if r.Size == 0 {
			freeIdx = i
			break
		}
	}
	if freeIdx == -1 {
		return errNoFreeRegion
	}

	p.free[freeIdx] = region
	p.alloc[allocIdx] = Region{}

	pageCount := region.Size / mem.PageSize
	for i := mem.Size(0); i < pageCount; i++ {
		p.pt.FreePage(region.Base + uintptr(i)*uintptr(mem.PageSize))
	}

	return nil
}

// IsLegitimate reports whether addr falls within this pool's management
// pages or any currently active allocation. The page-fault handler uses
// this to tell a demand-paging fault from a wild pointer.
func (p *Pool) IsLegitimate(addr uintptr) bool {
	if addr >= p.base && addr < p.base+2*uintptr(mem.PageSize) {
		return true
	}

	for _, r := range p.alloc {
		if r.Size != 0 && addr >= r.Base && addr < r.Base+uintptr(r.Size) {
			return true
		}
	}

	return false
}
