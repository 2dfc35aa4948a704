package jit

import "errors"

// Fatal errors surface to the caller and terminate whatever loop raised
// them — the scheduler, the lifter, or bus configuration.
var (
	ErrUnmapped                 = errors.New("jit: unmapped memory")
	ErrStackUnderflow           = errors.New("jit: stack underflow")
	ErrDecompileEmpty           = errors.New("jit: entry address decompiled to zero instructions")
	ErrUnknownOpcodeAtLift      = errors.New("jit: unknown opcode reached the lifter")
	ErrUnresolvableBranchTarget = errors.New("jit: branch target has no label")
	ErrBusConflict              = errors.New("jit: overlapping device attachment")
	ErrBusConfig                = errors.New("jit: invalid device configuration")
	ErrNoFallthrough            = errors.New("jit: patch returned FallthroughToOriginal with nothing to fall through to")
)

// ErrCancelled is recoverable: it unwinds the scheduler loop cleanly without
// being treated as corruption. It is returned by HAL.IncrementCPUCycleCount
// once cancellation has been requested.
var ErrCancelled = errors.New("jit: cancelled")
