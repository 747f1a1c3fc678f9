package wasmhost

import "fmt"

// TypeMismatchError reports that an argument or return value did not match
// the component's declared signature. Argument shapes are checked before
// any call into the guest; result shapes are checked once the call returns.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// OutOfFuelError reports that a task's fuel budget (or, absent one, the
// host's default execution budget) was exhausted before the component
// returned.
type OutOfFuelError struct {
	Fuel uint64
}

func (e *OutOfFuelError) Error() string {
	return fmt.Sprintf("out of fuel: budget %d exhausted", e.Fuel)
}

// OutOfMemoryError reports that the host could not write an argument buffer
// into the component's linear memory at the pointer its alloc export
// returned; MaxBytes is the task's memory ceiling. A memory.grow past the
// ceiling inside the guest is not reported as this error.
type OutOfMemoryError struct {
	MaxBytes uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: exceeded %d byte ceiling", e.MaxBytes)
}

// HostTrapError reports a WebAssembly trap (e.g. unreachable, divide by
// zero, out-of-bounds memory access) raised by the running component.
type HostTrapError struct {
	Err error
}

func (e *HostTrapError) Error() string { return fmt.Sprintf("component trapped: %v", e.Err) }

func (e *HostTrapError) Unwrap() error { return e.Err }
