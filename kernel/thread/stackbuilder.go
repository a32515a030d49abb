package thread

import "unsafe"

// stackBuilder fabricates an initial thread context by pushing 32-bit words
// onto a stack from high addresses downward, exactly as a real `push`
// instruction would. The final cursor value is the stack pointer a
// context-switch trampoline should load to resume into this context.
type stackBuilder struct {
	cursor uintptr
}

func (b *stackBuilder) push(v uint32) {
	b.cursor -= 4
	*(*uint32)(unsafe.Pointer(b.cursor)) = v
}
