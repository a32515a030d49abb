package vmm

import (
	"teachos/kernel/config"
	"teachos/kernel/mem"
	"teachos/kernel/mem/pmm"
	"testing"
	"unsafe"
)

// alignedFrames returns a page-aligned Frame backed by enough scratch host
// memory to stand in for frames frames of "physical" memory.
func alignedFrames(t *testing.T, frames uint32) pmm.Frame {
	pageSize := uintptr(mem.PageSize)
	buf := make([]byte, uintptr(frames+1)*pageSize)
	t.Cleanup(func() { _ = buf })

	addr := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (addr + pageSize - 1) &^ (pageSize - 1)
	return pmm.FrameFromAddress(aligned)
}

type fakeRegion struct {
	base, size uintptr
}

func (f fakeRegion) IsLegitimate(addr uintptr) bool {
	return addr >= f.base && addr < f.base+f.size
}

// setupKernelPT builds a kernel PageTable over host-memory-backed pools and
// replaces every hardware-facing seam with a fake that operates on that
// same host memory, since this process has no real MMU to honor cr3/cr2 or
// the recursive self-map.
func setupKernelPT(t *testing.T) *PageTable {
	origWriteCR3, origReadCR0, origWriteCR0, origReadCR2, origPTEAddr :=
		WriteCR3Fn, readCR0Fn, writeCR0Fn, readCR2Fn, pteAddressFn
	t.Cleanup(func() {
		WriteCR3Fn, readCR0Fn, writeCR0Fn, readCR2Fn, pteAddressFn =
			origWriteCR3, origReadCR0, origWriteCR0, origReadCR2, origPTEAddr
		kernelPool, processPool, kernelDirFrame, current, kernelPoolList = nil, nil, 0, nil, nil
	})

	kp := pmm.NewPool(alignedFrames(t, 4), 4, 0)
	pp := pmm.NewPool(alignedFrames(t, 300), 300, 0)
	InitPaging(kp, pp, 4*mem.Mb)

	WriteCR3Fn = func(uint32) {}
	readCR0Fn = func() uint32 { return 0 }
	writeCR0Fn = func(uint32) {}

	kpt := NewKernelPageTable()
	kpt.Load()
	EnablePaging()

	pteAddressFn = func(va uintptr) uintptr {
		pdIndex := (va >> 22) & 0x3ff
		ptIndex := (va >> 12) & 0x3ff
		pdeAddr := current.dirFrame.Address() + pdIndex*4
		pde := readEntry(pdeAddr)
		return pde.frame().Address() + ptIndex*4
	}

	return kpt
}

func TestNewKernelPageTableIdentityMapsLowMem(t *testing.T) {
	kpt := setupKernelPT(t)

	dir := kpt.dirEntries()
	if !dir[0].present() {
		t.Fatal("expected PDE 0 to be present")
	}
	if got := dir[config.RecursiveEntryIndex]; !got.present() || got.frame() != kpt.dirFrame {
		t.Fatal("expected the recursive entry to point back at the directory's own frame")
	}

	ptFrame := dir[0].frame()
	ptes := overlayEntries(ptFrame.Address(), 1024)
	if !ptes[0].present() || ptes[0].frame().Address() != 0 {
		t.Errorf("expected PTE 0 to identity-map physical address 0; got frame %x", ptes[0].frame().Address())
	}
}

func TestHandleFaultInstallsMapping(t *testing.T) {
	kpt := setupKernelPT(t)
	kpt.RegisterPool(fakeRegion{base: 0x20000000, size: 0x10000000})

	readCR2Fn = func() uint32 { return 0x20000000 }
	if err := HandleFault(0); err != nil {
		t.Fatalf("expected fault to be serviced; got %v", err)
	}

	pteAddr := pteAddressFn(0x20000000)
	if pte := readEntry(pteAddr); !pte.present() {
		t.Fatal("expected PTE to be present after fault handling")
	}

	if got := kpt.Stats().FaultsServiced; got != 1 {
		t.Errorf("expected 1 fault serviced; got %d", got)
	}

	// A second access to the same page should not need a fresh frame from
	// the PTE branch (it is already present) but still counts as serviced.
	if err := HandleFault(0); err != nil {
		t.Fatalf("expected second fault to be serviced; got %v", err)
	}
	if got := kpt.Stats().FaultsServiced; got != 2 {
		t.Errorf("expected 2 faults serviced; got %d", got)
	}
	if got := kpt.Stats().FramesHandedOut; got != 1 {
		t.Errorf("expected the second fault to hand out no new frame; got %d frames in total", got)
	}
}

func TestHandleFaultRejectsUnclaimedAddress(t *testing.T) {
	setupKernelPT(t)

	readCR2Fn = func() uint32 { return 0x50000000 }
	err := HandleFault(0)
	if err != errInvalidFault {
		t.Fatalf("expected errInvalidFault; got %v", err)
	}
}

func TestHandleFaultReportsProtectionViolation(t *testing.T) {
	setupKernelPT(t)

	readCR2Fn = func() uint32 { return 0x20000000 }
	err := HandleFault(0x1)
	if err != errProtectionFault {
		t.Fatalf("expected errProtectionFault; got %v", err)
	}
}

func TestFreePageClearsMapping(t *testing.T) {
	kpt := setupKernelPT(t)
	kpt.RegisterPool(fakeRegion{base: 0x20000000, size: 0x10000000})

	readCR2Fn = func() uint32 { return 0x20000000 }
	if err := HandleFault(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kpt.FreePage(0x20000000)

	pteAddr := pteAddressFn(0x20000000)
	if pte := readEntry(pteAddr); pte.present() {
		t.Fatal("expected PTE to be cleared after FreePage")
	}
}
