// +build 386

package irq

// ExceptionNum identifies a CPU exception vector that can be passed to
// HandleException/HandleExceptionWithCode.
type ExceptionNum uint8

const (
	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a page-directory or page-table
	// entry is not present, or a privilege/RW protection check fails.
	// vmm.HandleFault is registered against this vector.
	PageFaultException = ExceptionNum(14)
)

// ExceptionHandler handles an exception that pushes no error code. If it
// returns, any modification to Frame/Regs propagates back to the faulting
// context.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that pushes an error code
// (e.g. a page fault's present/write/user bits).
type ExceptionHandlerWithCode func(errCode uint32, f *Frame, r *Regs)

// HandleException registers an error-code-less exception handler for
// exceptionNum. IDT construction and dispatch are external collaborators;
// this is only the registration point they call into.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler)

// HandleExceptionWithCode registers an exception handler that receives the
// hardware error code for exceptionNum.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode)
