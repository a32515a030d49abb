package thread

import (
	"reflect"
	"teachos/kernel/config"
	"teachos/kernel/kctx"
	"teachos/kernel/mem"
	"teachos/kernel/mem/vmm"
	"teachos/kernel/mem/vmpool"
	"testing"
	"unsafe"
)

// hostWindow stands in for a virtual-memory window: real, page-aligned host
// memory a Pool can treat as directly addressable. size only needs to cover
// the two management pages plus whatever a test actually allocates from
// the pool; the pool's own declared nominal window size can be larger.
func hostWindow(t *testing.T, size mem.Size) uintptr {
	pageSize := uintptr(mem.PageSize)
	buf := make([]byte, uintptr(size)+pageSize)
	t.Cleanup(func() { _ = buf })

	addr := uintptr(unsafe.Pointer(&buf[0]))
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

func readWord(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func TestNewWithSharedPTFabricatesContext(t *testing.T) {
	const stackSize = 4 * mem.Kb
	base := hostWindow(t, 2*mem.PageSize+stackSize)

	// A zero-value PageTable is never Loaded or Destroyed by
	// NewWithSharedPT/build, so it never reaches the cr3-writing code
	// path that would need real hardware.
	var pt vmm.PageTable
	vmp, err := vmpool.New(base, 4*mem.Mb, nil, &pt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	savedVMP := kctx.CurrentVMP
	t.Cleanup(func() { kctx.CurrentVMP = savedVMP })

	fn := func() {}
	tcb, terr := NewWithSharedPT(fn, stackSize, &pt, vmp)
	if terr != nil {
		t.Fatalf("unexpected error: %v", terr)
	}

	if tcb.pt != &pt || tcb.vmp != vmp || tcb.ownsPT {
		t.Fatal("expected the shared PageTable/VM pool to be recorded and ownsPT to be false")
	}
	if tcb.id == 0 {
		t.Fatal("expected a nonzero thread id")
	}

	stackTop := tcb.stackBase + uintptr(stackSize)
	if tcb.sp >= stackTop || tcb.sp < tcb.stackBase {
		t.Fatalf("expected sp %x within [%x, %x)", tcb.sp, tcb.stackBase, stackTop)
	}

	word := func(i int) uint32 { return readWord(tcb.sp + uintptr(i*4)) }

	if got := word(2); got != config.KernelDataSelector {
		t.Errorf("expected es = %x; got %x", config.KernelDataSelector, got)
	}
	if got := word(3); got != config.KernelDataSelector {
		t.Errorf("expected ds = %x; got %x", config.KernelDataSelector, got)
	}
	for i := 4; i < 12; i++ {
		if got := word(i); got != 0 {
			t.Errorf("expected zeroed GP register at word %d; got %x", i, got)
		}
	}
	if got := word(15); got != config.KernelCodeSelector {
		t.Errorf("expected cs = %x; got %x", config.KernelCodeSelector, got)
	}
	if got, exp := word(14), uint32(reflect.ValueOf(startShim).Pointer()); got != exp {
		t.Errorf("expected start-shim address %x; got %x", exp, got)
	}
	if got, exp := word(17), uint32(reflect.ValueOf(fn).Pointer()); got != exp {
		t.Errorf("expected thread function address %x; got %x", exp, got)
	}
	if got, exp := word(18), uint32(reflect.ValueOf(Func(shutdownHook)).Pointer()); got != exp {
		t.Errorf("expected shutdown-hook address %x; got %x", exp, got)
	}
	if got := word(19); got != 0 {
		t.Errorf("expected a dummy zero argument word at the base; got %x", got)
	}
}

func TestSetShutdownHookAffectsSubsequentContexts(t *testing.T) {
	orig := shutdownHook
	t.Cleanup(func() { shutdownHook = orig })

	called := func() {}
	SetShutdownHook(called)

	const stackSize = 4 * mem.Kb
	base := hostWindow(t, 2*mem.PageSize+stackSize)
	var pt vmm.PageTable
	vmp, err := vmpool.New(base, 4*mem.Mb, nil, &pt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	savedVMP := kctx.CurrentVMP
	t.Cleanup(func() { kctx.CurrentVMP = savedVMP })

	tcb, terr := NewWithSharedPT(func() {}, stackSize, &pt, vmp)
	if terr != nil {
		t.Fatalf("unexpected error: %v", terr)
	}

	word := func(i int) uint32 { return readWord(tcb.sp + uintptr(i*4)) }
	if got, exp := word(18), uint32(reflect.ValueOf(Func(called)).Pointer()); got != exp {
		t.Errorf("expected the installed shutdown hook's address %x; got %x", exp, got)
	}
}
