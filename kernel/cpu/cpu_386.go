// +build 386

package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ReadCR0 returns the value stored in the CR0 register.
func ReadCR0() uint32

// WriteCR0 stores val into the CR0 register.
func WriteCR0(val uint32)

// ReadCR2 returns the value stored in the CR2 register. The CPU populates
// CR2 with the faulting virtual address whenever a page fault occurs.
func ReadCR2() uint32

// ReadCR3 returns the physical address of the currently active page
// directory table.
func ReadCR3() uint32

// WriteCR3 loads the physical address of a page directory table into CR3,
// making it the active address space and flushing the entire TLB.
func WriteCR3(pdtPhysAddr uint32)

// SwitchTo is the only externally visible entrypoint of the context-switch
// trampoline. It saves the stack pointer of the currently running thread to
// *prevSP, switches %esp to nextSP and returns into whatever context
// nextSP's stack describes. A call to SwitchTo may not return to its caller
// until some later, unrelated call switches back to prevSP.
func SwitchTo(prevSP *uintptr, nextSP uintptr)

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
