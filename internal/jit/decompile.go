package jit

import "sort"

// DisassembledInstruction is one decoded 6502 instruction: its address, the
// raw opcode/operand bytes, and the opcode table entry describing it.
type DisassembledInstruction struct {
	Address  uint16
	Opcode   byte
	Operands []byte
	Info     OpcodeInfo
}

// Length is the instruction's encoded length, opcode byte included.
func (d DisassembledInstruction) Length() int { return 1 + len(d.Operands) }

// Mnemonic is a convenience accessor.
func (d DisassembledInstruction) Mnemonic() string { return d.Info.Mnemonic }

// operandWord assembles the little-endian 16-bit operand for ABS/ABX/ABY/IND
// instructions.
func (d DisassembledInstruction) operandWord() uint16 {
	if len(d.Operands) < 2 {
		return 0
	}
	return uint16(d.Operands[1])<<8 | uint16(d.Operands[0])
}

// operandByte is the single operand byte for modes that only carry one.
func (d DisassembledInstruction) operandByte() byte {
	if len(d.Operands) < 1 {
		return 0
	}
	return d.Operands[0]
}

// DecompiledFunction is the ordered instruction trace of one reachable 6502
// function: the entry address, the instructions in address order, and the
// set of addresses any lifted branch/jump targets.
type DecompiledFunction struct {
	Address      uint16
	Instructions []DisassembledInstruction
	JumpTargets  map[uint16]bool
}

// instructionAt returns the instruction at addr, if the trace decoded one
// there.
func (f *DecompiledFunction) instructionAt(addr uint16) (DisassembledInstruction, bool) {
	// linear scan is fine: functions are small (tens of instructions), and
	// this is only used by WithCycleCounting to look up each instruction's
	// addressing mode.
	for _, ins := range f.Instructions {
		if ins.Address == addr {
			return ins, true
		}
	}
	return DisassembledInstruction{}, false
}

// ByteRangeCovered returns the set of addresses whose bytes were consumed
// while decoding this function — the basis for the code cache's
// self-modifying-code tracking.
func (f *DecompiledFunction) ByteRangeCovered() map[uint16]bool {
	covered := make(map[uint16]bool)
	for _, ins := range f.Instructions {
		for i := 0; i < ins.Length(); i++ {
			covered[ins.Address+uint16(i)] = true
		}
	}
	return covered
}

// Decompile traces the reachable 6502 function starting at entry, reading
// instruction bytes from the code regions exposed by bus. It stops
// extending a given path at the first RTS, RTI, BRK, JSR, indirect JMP, or
// unrecognized opcode byte, and follows direct JMP/conditional branches
// within the mapped code regions.
func Decompile(bus *Bus, entry uint16) (*DecompiledFunction, error) {
	visited := make(map[uint16]bool)
	perAddr := make(map[uint16]DisassembledInstruction)
	jumpTargets := make(map[uint16]bool)

	worklist := []uint16{entry}

	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if visited[addr] {
			continue
		}
		visited[addr] = true

		opcode, ok := bus.ReadByteAt(addr)
		if !ok {
			// Fell off a mapped code region mid-trace; terminate silently.
			continue
		}

		info := opcodeTable[opcode]
		if !info.Official {
			// Unknown/illegal opcode byte reached before any terminator:
			// 6502 code sometimes ends a function with a non-opcode byte.
			// The decompiler accepts this only as a terminator — the
			// lifter must never see it.
			continue
		}

		operandLen := info.Mode.OperandBytes()
		operands := make([]byte, operandLen)
		ok = true
		for i := 0; i < operandLen; i++ {
			var b byte
			b, ok = bus.ReadByteAt(addr + 1 + uint16(i))
			if !ok {
				break
			}
			operands[i] = b
		}
		if !ok {
			// Instruction's operand bytes run off mapped memory.
			continue
		}

		ins := DisassembledInstruction{Address: addr, Opcode: opcode, Operands: operands, Info: info}
		perAddr[addr] = ins

		nextAddr := addr + uint16(ins.Length())
		mnemonic := info.Mnemonic

		if terminalMnemonics[mnemonic] {
			continue
		}

		if mnemonic == "JMP" {
			if info.Mode == IND {
				// Indirect JMP always terminates the function.
				continue
			}
			target := ins.operandWord()
			if _, mapped := bus.ReadByteAt(target); mapped {
				jumpTargets[target] = true
				worklist = append(worklist, target)
			}
			continue
		}

		if isConditionalBranch(mnemonic) {
			offset := ins.operandByte()
			target := nextAddr + signExtendRelative(offset)
			jumpTargets[target] = true
			if _, mapped := bus.ReadByteAt(target); mapped {
				worklist = append(worklist, target)
			}
			worklist = append(worklist, nextAddr)
			continue
		}

		worklist = append(worklist, nextAddr)
	}

	if len(perAddr) == 0 {
		return nil, ErrDecompileEmpty
	}

	addrs := make([]uint16, 0, len(perAddr))
	for a := range perAddr {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	instructions := make([]DisassembledInstruction, 0, len(addrs))
	for _, a := range addrs {
		instructions = append(instructions, perAddr[a])
	}

	// Only keep jump targets that actually landed on a decoded instruction;
	// a branch into the middle of mapped-but-undecoded bytes has no label
	// to attach to.
	for target := range jumpTargets {
		if _, ok := perAddr[target]; !ok {
			delete(jumpTargets, target)
		}
	}

	return &DecompiledFunction{Address: entry, Instructions: instructions, JumpTargets: jumpTargets}, nil
}

// signExtendRelative widens a 6502 relative-branch displacement byte to a
// signed 16-bit value suitable for address arithmetic.
func signExtendRelative(b byte) uint16 {
	if b&0x80 != 0 {
		return uint16(b) | 0xFF00
	}
	return uint16(b)
}
