package vmpool

import (
	"teachos/kernel/mem"
	"teachos/kernel/mem/vmm"
	"testing"
	"unsafe"
)

// fakePT is a minimal PageTable double: it records registered pools and
// freed pages without touching any real translation structures.
type fakePT struct {
	registered []vmm.Legitimizer
	freed      []uintptr
}

func (f *fakePT) RegisterPool(l vmm.Legitimizer) {
	f.registered = append(f.registered, l)
}

func (f *fakePT) FreePage(addr uintptr) {
	f.freed = append(f.freed, addr)
}

// hostWindow stands in for a virtual-memory window: real, page-aligned host
// memory that Pool can treat as directly addressable, the same way it would
// be once the page-fault handler backs it on real hardware.
func hostWindow(t *testing.T, size mem.Size) uintptr {
	pageSize := uintptr(mem.PageSize)
	buf := make([]byte, uintptr(size)+pageSize)
	t.Cleanup(func() { _ = buf })

	addr := uintptr(unsafe.Pointer(&buf[0]))
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

func TestNewSeedsInitialRegions(t *testing.T) {
	const size = 256 * mem.Kb
	base := hostWindow(t, size)

	p, err := New(base, size, nil, &fakePT{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, exp := p.alloc[0], (Region{Base: base, Size: 2 * mem.PageSize}); got != exp {
		t.Errorf("expected alloc[0] = %+v; got %+v", exp, got)
	}
	expFree := Region{Base: base + uintptr(2*mem.PageSize), Size: size - 2*mem.PageSize}
	if got := p.free[0]; got != expFree {
		t.Errorf("expected free[0] = %+v; got %+v", expFree, got)
	}

	if !p.IsLegitimate(base + uintptr(mem.PageSize)/2) {
		t.Error("expected the management pages to be legitimate before any allocation")
	}
}

func TestAllocateAndRelease(t *testing.T) {
	const size = 256 * mem.Mb
	base := hostWindow(t, 1*mem.Mb) // only the management pages are ever touched
	p, err := New(base, size, nil, &fakePT{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := p.Allocate(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := base + uintptr(2*mem.PageSize); a != exp {
		t.Errorf("expected first allocation at %x; got %x", exp, a)
	}

	b, err := p.Allocate(0x2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := a + uintptr(mem.PageSize); b != exp {
		t.Errorf("expected second allocation at %x; got %x", exp, b)
	}

	if !p.IsLegitimate(a) || !p.IsLegitimate(a + uintptr(mem.PageSize) - 1) {
		t.Error("expected the allocated region to be legitimate")
	}
	if p.IsLegitimate(b + 0x2000) {
		t.Error("expected the address just past the second allocation to not be legitimate")
	}

	if err := p.Release(a); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}
	if p.IsLegitimate(a) {
		t.Error("expected the released region to no longer be legitimate")
	}

	c, err := p.Allocate(0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != a {
		t.Errorf("expected the released region to be reusable at %x; got %x", a, c)
	}
}

func TestAllocateRejectsTooLarge(t *testing.T) {
	const size = 4 * mem.Mb
	base := hostWindow(t, 1*mem.Mb)
	p, err := New(base, size, nil, &fakePT{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Allocate(size); err == nil {
		t.Fatal("expected allocating the entire window (including management pages) to fail")
	}
}

func TestReleaseRejectsOutOfBounds(t *testing.T) {
	const size = 4 * mem.Mb
	base := hostWindow(t, 1*mem.Mb)
	p, err := New(base, size, nil, &fakePT{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Release(base + uintptr(size) + 0x1000); err != errOOBAddr {
		t.Fatalf("expected errOOBAddr; got %v", err)
	}
	if err := p.Release(base + uintptr(3*mem.PageSize)); err != errInvalidAddr {
		t.Fatalf("expected errInvalidAddr; got %v", err)
	}
}
