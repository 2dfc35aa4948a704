package jit

import "fmt"

// LifterTempCount is the number of scratch Variable slots the lifter's
// per-opcode lowering rules may use. Temps never survive past the
// instruction that allocated them — the interpreter executes one IR
// instruction fully before the next begins — so every lowering reuses the
// same small pool instead of growing it per instruction.
const LifterTempCount = 6

func tmp(i int) Value { return Variable{Index: i} }

var (
	regA = Register{RegA}
	regX = Register{RegX}
	regY = Register{RegY}
)

// LiftContext carries the information a single instruction's lowering needs
// beyond its own bytes: where labels must resolve to, and which addresses
// are known to be rewritten by running code.
type LiftContext struct {
	JumpTargets map[uint16]bool
	SMCTargets  map[uint16]bool
	// internal, addresses belonging to the same decompiled function; used to
	// distinguish an internal direct JMP from one that calls out.
	functionAddrs map[uint16]bool
}

func labelName(addr uint16) string { return fmt.Sprintf("L%04X", addr) }

// LiftFunction lowers every instruction of a decompiled function into one
// immutable IR Sequence, prepending a Label wherever an address is a known
// jump target. The returned addrs slice runs parallel to seq, giving the
// originating 6502 instruction address for each IR instruction — the
// generator uses it to keep HAL.CurrentInstructionAddress accurate without
// the IR itself needing an address-tracking instruction variant.
func LiftFunction(fn *DecompiledFunction, smcTargets map[uint16]bool) (seq Sequence, addrs []uint16, err error) {
	functionAddrs := make(map[uint16]bool, len(fn.Instructions))
	for _, ins := range fn.Instructions {
		functionAddrs[ins.Address] = true
	}
	ctx := &LiftContext{JumpTargets: fn.JumpTargets, SMCTargets: smcTargets, functionAddrs: functionAddrs}

	for _, ins := range fn.Instructions {
		if fn.JumpTargets[ins.Address] {
			seq = append(seq, Label{Name: labelName(ins.Address)})
			addrs = append(addrs, ins.Address)
		}
		sub, err := lift(ins, ctx)
		if err != nil {
			return nil, nil, err
		}
		seq = append(seq, sub...)
		for range sub {
			addrs = append(addrs, ins.Address)
		}
	}
	return seq, addrs, nil
}

// lift lowers a single disassembled instruction into its IR sequence,
// per the per-opcode rules of spec §4.3.
func lift(ins DisassembledInstruction, ctx *LiftContext) (Sequence, error) {
	if !ins.Info.Official {
		return nil, fmt.Errorf("%w: opcode %#02x at %#04x", ErrUnknownOpcodeAtLift, ins.Opcode, ins.Address)
	}

	switch ins.Mnemonic() {
	case "LDA":
		return liftLoad(ins, ctx, regA), nil
	case "LDX":
		return liftLoad(ins, ctx, regX), nil
	case "LDY":
		return liftLoad(ins, ctx, regY), nil

	case "STA":
		return Sequence{Copy{Src: regA, Dst: operandValue(ins, ctx)}}, nil
	case "STX":
		return Sequence{Copy{Src: regX, Dst: operandValue(ins, ctx)}}, nil
	case "STY":
		return Sequence{Copy{Src: regY, Dst: operandValue(ins, ctx)}}, nil

	case "TAX":
		return append(Sequence{Copy{Src: regA, Dst: regX}}, setZN(regX)...), nil
	case "TAY":
		return append(Sequence{Copy{Src: regA, Dst: regY}}, setZN(regY)...), nil
	case "TXA":
		return append(Sequence{Copy{Src: regX, Dst: regA}}, setZN(regA)...), nil
	case "TYA":
		return append(Sequence{Copy{Src: regY, Dst: regA}}, setZN(regA)...), nil
	case "TSX":
		return append(Sequence{Copy{Src: StackPointerValue{}, Dst: regX}}, setZN(regX)...), nil
	case "TXS":
		return Sequence{Copy{Src: regX, Dst: StackPointerValue{}}}, nil

	case "ADC":
		return liftADC(ins, ctx, false), nil
	case "SBC":
		return liftADC(ins, ctx, true), nil

	case "CMP":
		return liftCompare(ins, ctx, regA), nil
	case "CPX":
		return liftCompare(ins, ctx, regX), nil
	case "CPY":
		return liftCompare(ins, ctx, regY), nil

	case "AND":
		return liftLogical(ins, ctx, And), nil
	case "ORA":
		return liftLogical(ins, ctx, Or), nil
	case "EOR":
		return liftLogical(ins, ctx, Xor), nil

	case "BIT":
		return liftBIT(ins, ctx), nil

	case "ASL":
		return liftShift(ins, ctx, true, false), nil
	case "LSR":
		return liftShift(ins, ctx, false, false), nil
	case "ROL":
		return liftShift(ins, ctx, true, true), nil
	case "ROR":
		return liftShift(ins, ctx, false, true), nil

	case "INC":
		return liftIncDecMem(ins, ctx, true), nil
	case "DEC":
		return liftIncDecMem(ins, ctx, false), nil
	case "INX":
		return append(Sequence{Binary{Op: Add, LHS: regX, RHS: Constant{1}, Dst: regX}}, setZN(regX)...), nil
	case "DEX":
		return append(Sequence{Binary{Op: Subtract, LHS: regX, RHS: Constant{1}, Dst: regX}}, setZN(regX)...), nil
	case "INY":
		return append(Sequence{Binary{Op: Add, LHS: regY, RHS: Constant{1}, Dst: regY}}, setZN(regY)...), nil
	case "DEY":
		return append(Sequence{Binary{Op: Subtract, LHS: regY, RHS: Constant{1}, Dst: regY}}, setZN(regY)...), nil

	case "SEC":
		return Sequence{Copy{Src: Constant{1}, Dst: FlagValue{FlagCarry}}}, nil
	case "CLC":
		return Sequence{Copy{Src: Constant{0}, Dst: FlagValue{FlagCarry}}}, nil
	case "SED":
		return Sequence{Copy{Src: Constant{1}, Dst: FlagValue{FlagDecimal}}}, nil
	case "CLD":
		return Sequence{Copy{Src: Constant{0}, Dst: FlagValue{FlagDecimal}}}, nil
	case "SEI":
		return Sequence{Copy{Src: Constant{1}, Dst: FlagValue{FlagInterruptDisable}}}, nil
	case "CLI":
		return Sequence{Copy{Src: Constant{0}, Dst: FlagValue{FlagInterruptDisable}}}, nil
	case "CLV":
		return Sequence{Copy{Src: Constant{0}, Dst: FlagValue{FlagOverflow}}}, nil

	case "BCC":
		return Sequence{JumpIfZero{Cond: FlagValue{FlagCarry}, Name: branchLabel(ins)}}, nil
	case "BCS":
		return Sequence{JumpIfNotZero{Cond: FlagValue{FlagCarry}, Name: branchLabel(ins)}}, nil
	case "BEQ":
		return Sequence{JumpIfNotZero{Cond: FlagValue{FlagZero}, Name: branchLabel(ins)}}, nil
	case "BNE":
		return Sequence{JumpIfZero{Cond: FlagValue{FlagZero}, Name: branchLabel(ins)}}, nil
	case "BMI":
		return Sequence{JumpIfNotZero{Cond: FlagValue{FlagNegative}, Name: branchLabel(ins)}}, nil
	case "BPL":
		return Sequence{JumpIfZero{Cond: FlagValue{FlagNegative}, Name: branchLabel(ins)}}, nil
	case "BVC":
		return Sequence{JumpIfZero{Cond: FlagValue{FlagOverflow}, Name: branchLabel(ins)}}, nil
	case "BVS":
		return Sequence{JumpIfNotZero{Cond: FlagValue{FlagOverflow}, Name: branchLabel(ins)}}, nil

	case "JMP":
		return liftJMP(ins, ctx), nil
	case "JSR":
		return liftJSR(ins), nil
	case "RTS":
		return Sequence{Return{FromInterrupt: false}}, nil
	case "RTI":
		return Sequence{Return{FromInterrupt: true}}, nil

	case "PHA":
		return Sequence{PushStackValue{Src: regA}}, nil
	case "PHP":
		return Sequence{
			Binary{Op: Or, LHS: AllFlags{}, RHS: Constant{0x30}, Dst: tmp(0)},
			PushStackValue{Src: tmp(0)},
		}, nil
	case "PLA":
		return append(Sequence{PopStackValue{Dst: regA}}, setZN(regA)...), nil
	case "PLP":
		return Sequence{
			PopStackValue{Dst: tmp(0)},
			Binary{Op: And, LHS: tmp(0), RHS: Constant{0xCF}, Dst: tmp(0)},
			Binary{Op: And, LHS: AllFlags{}, RHS: Constant{0x30}, Dst: tmp(1)},
			Binary{Op: Or, LHS: tmp(0), RHS: tmp(1), Dst: tmp(0)},
			Copy{Src: tmp(0), Dst: AllFlags{}},
		}, nil

	case "BRK":
		return Sequence{InvokeSoftwareInterrupt{}}, nil
	case "NOP":
		return Sequence{NoOp{}}, nil

	default:
		return nil, fmt.Errorf("%w: mnemonic %s at %#04x", ErrUnknownOpcodeAtLift, ins.Mnemonic(), ins.Address)
	}
}

func branchLabel(ins DisassembledInstruction) string {
	target := ins.Address + uint16(ins.Length()) + signExtendRelative(ins.operandByte())
	return labelName(target)
}

func setZN(v Value) Sequence {
	return Sequence{
		Binary{Op: Equals, LHS: v, RHS: Constant{0}, Dst: FlagValue{FlagZero}},
		Binary{Op: And, LHS: v, RHS: Constant{0x80}, Dst: tmp(5)},
		Binary{Op: NotEquals, LHS: tmp(5), RHS: Constant{0}, Dst: FlagValue{FlagNegative}},
	}
}

func resolveLocation(ins DisassembledInstruction, operandLen int, zeroPage bool, smc map[uint16]bool) MemoryLocation {
	for i := 0; i < operandLen; i++ {
		if smc[ins.Address+1+uint16(i)] {
			return Dynamic{PointerAddr: ins.Address + 1, ZeroPageWrap: zeroPage}
		}
	}
	var addr uint16
	if operandLen == 1 {
		addr = uint16(ins.operandByte())
	} else {
		addr = ins.operandWord()
	}
	return Direct{Addr: addr}
}

// operandValue resolves the addressing-mode-specific operand Value for an
// instruction, substituting a Dynamic location whenever the lifter's
// self-modifying-code target set covers the instruction's own operand
// bytes.
func operandValue(ins DisassembledInstruction, ctx *LiftContext) Value {
	switch ins.Info.Mode {
	case IMM:
		return Constant{ins.operandByte()}
	case ZP0:
		return Memory{Location: resolveLocation(ins, 1, true, ctx.SMCTargets), ZeroPageWrap: true}
	case ZPX:
		r := RegX
		return Memory{Location: resolveLocation(ins, 1, true, ctx.SMCTargets), OffsetRegister: &r, ZeroPageWrap: true}
	case ZPY:
		r := RegY
		return Memory{Location: resolveLocation(ins, 1, true, ctx.SMCTargets), OffsetRegister: &r, ZeroPageWrap: true}
	case ABS:
		return Memory{Location: resolveLocation(ins, 2, false, ctx.SMCTargets)}
	case ABX:
		r := RegX
		return Memory{Location: resolveLocation(ins, 2, false, ctx.SMCTargets), OffsetRegister: &r}
	case ABY:
		r := RegY
		return Memory{Location: resolveLocation(ins, 2, false, ctx.SMCTargets), OffsetRegister: &r}
	case IZX:
		return IndirectMemory{ZPPointer: ins.operandByte(), AddXBeforeIndirect: true}
	case IZY:
		return IndirectMemory{ZPPointer: ins.operandByte(), AddYAfterIndirect: true}
	default: // IMP — the accumulator, for ASL/LSR/ROL/ROR
		return regA
	}
}

func liftLoad(ins DisassembledInstruction, ctx *LiftContext, dst Value) Sequence {
	return append(Sequence{Copy{Src: operandValue(ins, ctx), Dst: dst}}, setZN(dst)...)
}

func liftLogical(ins DisassembledInstruction, ctx *LiftContext, op BinaryOp) Sequence {
	return append(Sequence{Binary{Op: op, LHS: regA, RHS: operandValue(ins, ctx), Dst: regA}}, setZN(regA)...)
}

// liftADC lowers ADC, or SBC when invert is true (SBC is ADC with the
// operand bitwise-inverted, per spec §4.3).
func liftADC(ins DisassembledInstruction, ctx *LiftContext, invert bool) Sequence {
	operand := operandValue(ins, ctx)
	effective := Value(operand)
	var seq Sequence
	if invert {
		seq = append(seq, Unary{Op: BitwiseNot, Src: operand, Dst: tmp(4)})
		effective = tmp(4)
	}

	wide := tmp(0)
	seq = append(seq,
		Binary{Op: Add, LHS: regA, RHS: effective, Dst: wide},
		Binary{Op: Add, LHS: wide, RHS: FlagValue{FlagCarry}, Dst: wide},
		Binary{Op: GreaterThan, LHS: wide, RHS: Constant{0xFF}, Dst: FlagValue{FlagCarry}},
	)

	// Overflow's signed-overflow test only inspects bit 7, which truncation
	// never changes, so it is safe to compute from the untruncated wide sum.
	seq = append(seq,
		Binary{Op: Xor, LHS: regA, RHS: wide, Dst: tmp(1)},
		Binary{Op: Xor, LHS: effective, RHS: wide, Dst: tmp(2)},
		Binary{Op: And, LHS: tmp(1), RHS: tmp(2), Dst: tmp(1)},
		Binary{Op: And, LHS: tmp(1), RHS: Constant{0x80}, Dst: tmp(1)},
		Binary{Op: NotEquals, LHS: tmp(1), RHS: Constant{0}, Dst: FlagValue{FlagOverflow}},
	)

	seq = append(seq, WrapValueToByte{Value: wide, OverflowOut: tmp(3)})
	seq = append(seq, Copy{Src: wide, Dst: regA})
	seq = append(seq, setZN(regA)...)
	return seq
}

func liftCompare(ins DisassembledInstruction, ctx *LiftContext, reg Value) Sequence {
	operand := operandValue(ins, ctx)
	return Sequence{
		Binary{Op: Subtract, LHS: reg, RHS: operand, Dst: tmp(0)},
		Binary{Op: GreaterThanOrEqualTo, LHS: reg, RHS: operand, Dst: FlagValue{FlagCarry}},
		Binary{Op: Equals, LHS: reg, RHS: operand, Dst: FlagValue{FlagZero}},
		Binary{Op: And, LHS: tmp(0), RHS: Constant{0x80}, Dst: tmp(1)},
		Binary{Op: NotEquals, LHS: tmp(1), RHS: Constant{0}, Dst: FlagValue{FlagNegative}},
	}
}

func liftBIT(ins DisassembledInstruction, ctx *LiftContext) Sequence {
	operand := operandValue(ins, ctx)
	return Sequence{
		Binary{Op: And, LHS: regA, RHS: operand, Dst: tmp(0)},
		Binary{Op: Equals, LHS: tmp(0), RHS: Constant{0}, Dst: FlagValue{FlagZero}},
		Binary{Op: And, LHS: operand, RHS: Constant{0x80}, Dst: tmp(1)},
		Binary{Op: NotEquals, LHS: tmp(1), RHS: Constant{0}, Dst: FlagValue{FlagNegative}},
		Binary{Op: And, LHS: operand, RHS: Constant{0x40}, Dst: tmp(2)},
		Binary{Op: NotEquals, LHS: tmp(2), RHS: Constant{0}, Dst: FlagValue{FlagOverflow}},
	}
}

// liftShift lowers ASL/LSR (left=true/false) and, when rotate is true,
// ROL/ROR.
func liftShift(ins DisassembledInstruction, ctx *LiftContext, left, rotate bool) Sequence {
	target := operandValue(ins, ctx)
	var seq Sequence

	if left {
		seq = append(seq,
			Binary{Op: And, LHS: target, RHS: Constant{0x80}, Dst: tmp(0)},
			Binary{Op: NotEquals, LHS: tmp(0), RHS: Constant{0}, Dst: tmp(1)}, // new carry
			Binary{Op: ShiftLeft, LHS: target, RHS: Constant{1}, Dst: tmp(2)},
		)
		if rotate {
			seq = append(seq, Binary{Op: Or, LHS: tmp(2), RHS: FlagValue{FlagCarry}, Dst: tmp(2)})
		}
		seq = append(seq, Copy{Src: tmp(2), Dst: target})
		seq = append(seq, Copy{Src: tmp(1), Dst: FlagValue{FlagCarry}})
	} else {
		seq = append(seq,
			Binary{Op: And, LHS: target, RHS: Constant{1}, Dst: tmp(0)},
			Binary{Op: NotEquals, LHS: tmp(0), RHS: Constant{0}, Dst: tmp(1)}, // new carry
			Binary{Op: ShiftRight, LHS: target, RHS: Constant{1}, Dst: tmp(2)},
		)
		if rotate {
			seq = append(seq,
				Binary{Op: ShiftLeft, LHS: FlagValue{FlagCarry}, RHS: Constant{7}, Dst: tmp(3)},
				Binary{Op: Or, LHS: tmp(2), RHS: tmp(3), Dst: tmp(2)},
			)
		}
		seq = append(seq, Copy{Src: tmp(2), Dst: target})
		seq = append(seq, Copy{Src: tmp(1), Dst: FlagValue{FlagCarry}})
	}

	seq = append(seq, setZN(target)...)
	return seq
}

func liftIncDecMem(ins DisassembledInstruction, ctx *LiftContext, inc bool) Sequence {
	target := operandValue(ins, ctx)
	op := Subtract
	if inc {
		op = Add
	}
	seq := Sequence{
		Binary{Op: op, LHS: target, RHS: Constant{1}, Dst: tmp(0)},
		Copy{Src: tmp(0), Dst: target},
	}
	return append(seq, setZN(target)...)
}

func liftJMP(ins DisassembledInstruction, ctx *LiftContext) Sequence {
	if ins.Info.Mode == IND {
		return Sequence{CallFunction{Target: FunctionAddress{Address: ins.operandWord(), Indirect: true}}}
	}
	target := ins.operandWord()
	if ctx.functionAddrs[target] {
		return Sequence{Jump{Name: labelName(target)}}
	}
	return Sequence{CallFunction{Target: FunctionAddress{Address: target, Indirect: false}}}
}

// liftJSR pushes the return address (the address of JSR's last byte) before
// transferring control, so that the callee's RTS resumes execution right
// after this JSR. See DESIGN.md for why the push is emitted here rather
// than inside the generator's CallFunction lowering.
func liftJSR(ins DisassembledInstruction) Sequence {
	retAddr := ins.Address + uint16(ins.Length()) - 1
	return Sequence{
		PushStackValue{Src: Constant{byte(retAddr >> 8)}},
		PushStackValue{Src: Constant{byte(retAddr)}},
		CallFunction{Target: FunctionAddress{Address: ins.operandWord(), Indirect: false}},
	}
}
