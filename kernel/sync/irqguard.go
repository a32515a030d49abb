package sync

import "teachos/kernel/cpu"

var (
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	interruptsEnabledFn = interruptsEnabled
)

// IRQGuard masks interrupts for the duration of a critical section and
// restores them to whatever state they were in before the guard was
// acquired. Scheduler code that mutates the ready queue or a TCB's saved
// stack pointer wraps the mutation in a guard so the timer IRQ can never
// observe it half-done.
type IRQGuard struct {
	wasEnabled bool
}

// EnterCritical masks interrupts and returns a guard that will restore the
// previous interrupt state when Exit is called.
func EnterCritical() IRQGuard {
	g := IRQGuard{wasEnabled: interruptsEnabledFn()}
	disableInterruptsFn()
	return g
}

// Exit restores interrupts to the state they were in when the guard was
// acquired. Calling Exit more than once has no additional effect beyond the
// first call.
func (g IRQGuard) Exit() {
	if g.wasEnabled {
		enableInterruptsFn()
	}
}

// interruptsEnabled is overridden by tests; on real hardware it would read
// the IF bit out of EFLAGS. TODO: wire this up once irq exposes EFLAGS reads.
func interruptsEnabled() bool {
	return true
}
