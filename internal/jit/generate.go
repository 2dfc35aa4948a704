package jit

import (
	"context"
	"fmt"
)

// Routine is a generated executable method: the interpreter loop produced by
// Generate for one decompiled function. It runs until it reaches a
// CallFunction, a Return, or a BRK, at which point it yields the next 6502
// address to the scheduler. Two negative results are reserved sentinels;
// every other negative value is invalid.
type Routine func(ctx context.Context, hal HAL) (int32, error)

const (
	// HaltRoutine tells the scheduler the emulated program has halted: the
	// sequence fell off its end with no terminator. A generated Routine
	// returns it when the path taken reaches no Return, CallFunction, or BRK:
	// a hand-built Sequence missing one, or a lifted function whose trace
	// ended at an unrecognized opcode byte or at the edge of mapped memory.
	HaltRoutine int32 = -1

	// FallthroughToOriginal is returned by a patch Routine (see InstallPatch)
	// to mean "run the routine this patch displaced, from its own entry
	// point, and use its result instead." It is never returned by Generate.
	FallthroughToOriginal int32 = -2
)

// Generate turns a lifted (and possibly customized) Sequence into a Routine.
// addrs must be the parallel per-instruction source-address slice LiftFunction
// returned, threaded through any customizers via applyCustomizers.
func Generate(seq Sequence, addrs []uint16) (Routine, error) {
	labels := make(map[string]int, len(seq))
	for i, instr := range seq {
		if l, ok := instr.(Label); ok {
			labels[l.Name] = i
		}
	}

	return func(ctx context.Context, hal HAL) (int32, error) {
		var vars [LifterTempCount]int
		pc := 0
		for pc < len(seq) {
			if pc < len(addrs) {
				hal.SetCurrentInstructionAddress(addrs[pc])
			}

			switch instr := seq[pc].(type) {
			case Label:
				pc++

			case AdvanceCycles:
				if err := hal.IncrementCPUCycleCount(ctx, instr.Count); err != nil {
					return 0, err
				}
				pc++

			case Copy:
				v, err := readValue(hal, &vars, instr.Src)
				if err != nil {
					return 0, err
				}
				if err := writeValue(hal, &vars, instr.Dst, v); err != nil {
					return 0, err
				}
				pc++

			case Unary:
				v, err := readValue(hal, &vars, instr.Src)
				if err != nil {
					return 0, err
				}
				var result int
				switch instr.Op {
				case BitwiseNot:
					result = (^v) & 0xFF
				case LogicalNot:
					if v == 0 {
						result = 1
					}
				}
				if err := writeValue(hal, &vars, instr.Dst, result); err != nil {
					return 0, err
				}
				pc++

			case Binary:
				result, err := evalBinary(hal, &vars, instr)
				if err != nil {
					return 0, err
				}
				if err := writeValue(hal, &vars, instr.Dst, result); err != nil {
					return 0, err
				}
				pc++

			case Jump:
				idx, ok := labels[instr.Name]
				if !ok {
					return 0, fmt.Errorf("%w: %s", ErrUnresolvableBranchTarget, instr.Name)
				}
				pc = idx

			case JumpIfZero:
				v, err := readValue(hal, &vars, instr.Cond)
				if err != nil {
					return 0, err
				}
				if v == 0 {
					idx, ok := labels[instr.Name]
					if !ok {
						return 0, fmt.Errorf("%w: %s", ErrUnresolvableBranchTarget, instr.Name)
					}
					pc = idx
				} else {
					pc++
				}

			case JumpIfNotZero:
				v, err := readValue(hal, &vars, instr.Cond)
				if err != nil {
					return 0, err
				}
				if v != 0 {
					idx, ok := labels[instr.Name]
					if !ok {
						return 0, fmt.Errorf("%w: %s", ErrUnresolvableBranchTarget, instr.Name)
					}
					pc = idx
				} else {
					pc++
				}

			case CallFunction:
				target, err := resolveCallTarget(hal, instr.Target)
				return int32(target), err

			case Return:
				if instr.FromInterrupt {
					status, err := hal.PopFromStack()
					if err != nil {
						return 0, err
					}
					hal.SetProcessorStatus(status)
				}
				lo, err := hal.PopFromStack()
				if err != nil {
					return 0, err
				}
				hi, err := hal.PopFromStack()
				if err != nil {
					return 0, err
				}
				addr := uint16(hi)<<8 | uint16(lo)
				if !instr.FromInterrupt {
					addr++
				}
				return int32(addr), nil

			case PushStackValue:
				v, err := readValue(hal, &vars, instr.Src)
				if err != nil {
					return 0, err
				}
				if err := hal.PushToStack(byte(v)); err != nil {
					return 0, err
				}
				pc++

			case PopStackValue:
				b, err := hal.PopFromStack()
				if err != nil {
					return 0, err
				}
				if err := writeValue(hal, &vars, instr.Dst, int(b)); err != nil {
					return 0, err
				}
				pc++

			case WrapValueToByte:
				v, err := readValue(hal, &vars, instr.Value)
				if err != nil {
					return 0, err
				}
				truncated := v & 0xFF
				overflow := 0
				if v < 0 || v > 0xFF {
					overflow = 1
				}
				if err := writeValue(hal, &vars, instr.Value, truncated); err != nil {
					return 0, err
				}
				if err := writeValue(hal, &vars, instr.OverflowOut, overflow); err != nil {
					return 0, err
				}
				pc++

			case InvokeSoftwareInterrupt:
				vector, err := hal.TriggerSoftwareInterrupt()
				return int32(vector), err

			case NoOp:
				pc++

			case DebugValue:
				v, err := readValue(hal, &vars, instr.Src)
				if err != nil {
					return 0, err
				}
				hal.DebugHook(fmt.Sprintf("%s = $%02X", instr.Src, byte(v)))
				pc++

			case PollInterrupt:
				if vector := hal.PollForInterrupt(); vector != 0 {
					return int32(vector), nil
				}
				pc++

			default:
				return 0, fmt.Errorf("jit: unhandled IR instruction %T", instr)
			}
		}
		return HaltRoutine, nil
	}, nil
}

func evalBinary(hal HAL, vars *[LifterTempCount]int, instr Binary) (int, error) {
	a, err := readValue(hal, vars, instr.LHS)
	if err != nil {
		return 0, err
	}
	b, err := readValue(hal, vars, instr.RHS)
	if err != nil {
		return 0, err
	}
	switch instr.Op {
	case Add:
		return a + b, nil
	case Subtract:
		return a - b, nil
	case Equals:
		return boolInt(a == b), nil
	case NotEquals:
		return boolInt(a != b), nil
	case GreaterThan:
		return boolInt(a > b), nil
	case GreaterThanOrEqualTo:
		return boolInt(a >= b), nil
	case LessThan:
		return boolInt(a < b), nil
	case LessThanOrEqualTo:
		return boolInt(a <= b), nil
	case And:
		return a & b, nil
	case Or:
		return a | b, nil
	case Xor:
		return a ^ b, nil
	case ShiftLeft:
		return a << uint(b), nil
	case ShiftRight:
		return a >> uint(b), nil
	default:
		return 0, fmt.Errorf("jit: unhandled binary operator %d", instr.Op)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func readValue(hal HAL, vars *[LifterTempCount]int, v Value) (int, error) {
	switch t := v.(type) {
	case Constant:
		return int(t.V), nil
	case Register:
		switch t.Reg {
		case RegA:
			return int(hal.ARegister()), nil
		case RegX:
			return int(hal.XRegister()), nil
		case RegY:
			return int(hal.YRegister()), nil
		}
	case FlagValue:
		return boolInt(hal.GetFlag(t.Flag)), nil
	case AllFlags:
		return int(hal.ProcessorStatus()), nil
	case StackPointerValue:
		return int(hal.StackPointer()), nil
	case Variable:
		return vars[t.Index], nil
	case Memory:
		addr, err := resolveMemoryAddr(hal, t)
		if err != nil {
			return 0, err
		}
		b, err := hal.ReadMemory(addr)
		return int(b), err
	case IndirectMemory:
		addr, err := resolveIndirectAddr(hal, t)
		if err != nil {
			return 0, err
		}
		b, err := hal.ReadMemory(addr)
		return int(b), err
	}
	return 0, fmt.Errorf("jit: unreadable value %T", v)
}

func writeValue(hal HAL, vars *[LifterTempCount]int, dst Value, val int) error {
	switch t := dst.(type) {
	case Register:
		switch t.Reg {
		case RegA:
			hal.SetARegister(byte(val))
		case RegX:
			hal.SetXRegister(byte(val))
		case RegY:
			hal.SetYRegister(byte(val))
		}
		return nil
	case FlagValue:
		hal.SetFlag(t.Flag, val&1 != 0)
		return nil
	case AllFlags:
		hal.SetProcessorStatus(byte(val))
		return nil
	case StackPointerValue:
		hal.SetStackPointer(byte(val))
		return nil
	case Variable:
		vars[t.Index] = val
		return nil
	case Memory:
		addr, err := resolveMemoryAddr(hal, t)
		if err != nil {
			return err
		}
		return hal.WriteMemory(addr, byte(val))
	case IndirectMemory:
		addr, err := resolveIndirectAddr(hal, t)
		if err != nil {
			return err
		}
		return hal.WriteMemory(addr, byte(val))
	}
	return fmt.Errorf("jit: unwritable destination %T", dst)
}

func resolveMemoryAddr(hal HAL, m Memory) (uint16, error) {
	base, err := resolveLocationAddr(hal, m.Location)
	if err != nil {
		return 0, err
	}
	if m.OffsetRegister == nil {
		return base, nil
	}
	var idx byte
	switch *m.OffsetRegister {
	case RegX:
		idx = hal.XRegister()
	case RegY:
		idx = hal.YRegister()
	}
	if m.ZeroPageWrap {
		return uint16(byte(base) + idx), nil
	}
	return base + uint16(idx), nil
}

func resolveLocationAddr(hal HAL, loc MemoryLocation) (uint16, error) {
	switch t := loc.(type) {
	case Direct:
		return t.Addr, nil
	case Dynamic:
		lo, err := hal.ReadMemory(t.PointerAddr)
		if err != nil {
			return 0, err
		}
		if t.ZeroPageWrap {
			return uint16(lo), nil
		}
		hi, err := hal.ReadMemory(t.PointerAddr + 1)
		if err != nil {
			return 0, err
		}
		return uint16(hi)<<8 | uint16(lo), nil
	}
	return 0, fmt.Errorf("jit: unresolvable memory location %T", loc)
}

// resolveIndirectAddr implements the 6502's (zp,X) and (zp),Y addressing:
// the pointer lookup itself always wraps within page zero.
func resolveIndirectAddr(hal HAL, m IndirectMemory) (uint16, error) {
	if m.AddXBeforeIndirect {
		ptr := m.ZPPointer + hal.XRegister()
		lo, err := hal.ReadMemory(uint16(ptr))
		if err != nil {
			return 0, err
		}
		hi, err := hal.ReadMemory(uint16(ptr + 1))
		if err != nil {
			return 0, err
		}
		return uint16(hi)<<8 | uint16(lo), nil
	}
	lo, err := hal.ReadMemory(uint16(m.ZPPointer))
	if err != nil {
		return 0, err
	}
	hi, err := hal.ReadMemory(uint16(m.ZPPointer + 1))
	if err != nil {
		return 0, err
	}
	base := uint16(hi)<<8 | uint16(lo)
	if m.AddYAfterIndirect {
		return base + uint16(hal.YRegister()), nil
	}
	return base, nil
}

// resolveCallTarget honors the 6502's indirect-JMP page-boundary bug: when
// the low byte of the pointer is $FF, the high byte is fetched from the
// start of the same page rather than the next one.
func resolveCallTarget(hal HAL, target FunctionAddress) (uint16, error) {
	if !target.Indirect {
		return target.Address, nil
	}
	lo, err := hal.ReadMemory(target.Address)
	if err != nil {
		return 0, err
	}
	hiAddr := (target.Address & 0xFF00) | uint16(byte(target.Address)+1)
	hi, err := hal.ReadMemory(hiAddr)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}
