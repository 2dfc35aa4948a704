package jit

// Customizer mutates a lifted Sequence into another Sequence. Sequences are
// immutable, so a customizer always returns a new one rather than editing in
// place — the cache's idea of "what this function's bytes cover" is derived
// once, at lift time, and must never be invalidated by a later pass.
type Customizer func(fn *DecompiledFunction, seq Sequence, addrs []uint16) (Sequence, []uint16)

// WithCycleCounting inserts an AdvanceCycles instruction at the start of
// every source-instruction's IR block, using the addressing-mode cycle
// approximation in opcodes.go. This is the platform customizer
// NewStandardScheduler layers on top of WithInterruptPolling; tests
// exercising flag semantics in isolation omit it, to keep expected cycle
// counts out of the table.
func WithCycleCounting(fn *DecompiledFunction, seq Sequence, addrs []uint16) (Sequence, []uint16) {
	out := make(Sequence, 0, len(seq)+len(fn.Instructions))
	outAddrs := make([]uint16, 0, cap(out))

	var lastAddr uint16
	haveLast := false
	for i, instr := range seq {
		addr := addrs[i]
		if _, isLabel := instr.(Label); !isLabel && (!haveLast || addr != lastAddr) {
			ins, ok := fn.instructionAt(addr)
			if ok {
				out = append(out, AdvanceCycles{Count: ins.Info.Mode.BaseCycles()})
				outAddrs = append(outAddrs, addr)
			}
			lastAddr = addr
			haveLast = true
		}
		out = append(out, instr)
		outAddrs = append(outAddrs, addr)
	}
	return out, outAddrs
}

// WithInterruptPolling prepends a DebugValue+PollInterrupt pair to every
// source-instruction's IR block, so host code can observe accumulator
// progress and so a pending interrupt is honored between any two 6502
// instructions rather than only at CallFunction/Return boundaries.
// NewStandardScheduler applies it first, ahead of WithCycleCounting and any
// caller-supplied customizers; NewScheduler applies only the customizers it
// is given.
func WithInterruptPolling(fn *DecompiledFunction, seq Sequence, addrs []uint16) (Sequence, []uint16) {
	out := make(Sequence, 0, len(seq)+2*len(fn.Instructions))
	outAddrs := make([]uint16, 0, cap(out))

	var lastAddr uint16
	haveLast := false
	for i, instr := range seq {
		addr := addrs[i]
		if _, isLabel := instr.(Label); !isLabel && (!haveLast || addr != lastAddr) {
			out = append(out, DebugValue{Src: regA}, PollInterrupt{})
			outAddrs = append(outAddrs, addr, addr)
			lastAddr = addr
			haveLast = true
		}
		out = append(out, instr)
		outAddrs = append(outAddrs, addr)
	}
	return out, outAddrs
}

// WithDebugTrace inserts a DebugValue of the accumulator after every source
// instruction boundary. It's an opt-in extra on top of NewStandardScheduler
// (see the "run" subcommand's --trace flag in cmd/m6502jit), not one of the
// customizers NewStandardScheduler applies, since it adds a DebugValue after
// every source instruction of every function for a host-side observability
// hook most scheduler invocations never look at.
func WithDebugTrace(fn *DecompiledFunction, seq Sequence, addrs []uint16) (Sequence, []uint16) {
	out := make(Sequence, 0, len(seq)*2)
	outAddrs := make([]uint16, 0, cap(out))

	var lastAddr uint16
	haveLast := false
	for i, instr := range seq {
		if haveLast && addrs[i] != lastAddr {
			out = append(out, DebugValue{Src: regA})
			outAddrs = append(outAddrs, lastAddr)
		}
		out = append(out, instr)
		outAddrs = append(outAddrs, addrs[i])
		lastAddr = addrs[i]
		haveLast = true
	}
	if haveLast {
		out = append(out, DebugValue{Src: regA})
		outAddrs = append(outAddrs, lastAddr)
	}
	return out, outAddrs
}

// applyCustomizers threads seq/addrs through each customizer in order.
func applyCustomizers(fn *DecompiledFunction, seq Sequence, addrs []uint16, customizers ...Customizer) (Sequence, []uint16) {
	for _, c := range customizers {
		seq, addrs = c(fn, seq, addrs)
	}
	return seq, addrs
}
