package jit

import "fmt"

// Listing renders a decompiled function as human-readable disassembly
// lines, one per decoded instruction, in address order. The per-mode
// rendering mirrors the syntax used by common 6502 disassemblers: operand
// bytes printed in hex, indexed modes suffixed with the index register, and
// the addressing mode tagged in braces.
func Listing(fn *DecompiledFunction) []string {
	lines := make([]string, 0, len(fn.Instructions))
	for _, ins := range fn.Instructions {
		lines = append(lines, fmt.Sprintf("$%04X: %s", ins.Address, renderOperand(ins)))
	}
	return lines
}

func renderOperand(ins DisassembledInstruction) string {
	mnemonic := ins.Mnemonic()
	switch ins.Info.Mode {
	case IMP:
		return fmt.Sprintf("%s {IMP}", mnemonic)
	case IMM:
		return fmt.Sprintf("%s #$%02X {IMM}", mnemonic, ins.operandByte())
	case REL:
		target := ins.Address + uint16(ins.Length()) + signExtendRelative(ins.operandByte())
		return fmt.Sprintf("%s $%04X {REL}", mnemonic, target)
	case ZP0:
		return fmt.Sprintf("%s $%02X {ZP0}", mnemonic, ins.operandByte())
	case ZPX:
		return fmt.Sprintf("%s $%02X,X {ZPX}", mnemonic, ins.operandByte())
	case ZPY:
		return fmt.Sprintf("%s $%02X,Y {ZPY}", mnemonic, ins.operandByte())
	case ABS:
		return fmt.Sprintf("%s $%04X {ABS}", mnemonic, ins.operandWord())
	case ABX:
		return fmt.Sprintf("%s $%04X,X {ABX}", mnemonic, ins.operandWord())
	case ABY:
		return fmt.Sprintf("%s $%04X,Y {ABY}", mnemonic, ins.operandWord())
	case IND:
		return fmt.Sprintf("%s ($%04X) {IND}", mnemonic, ins.operandWord())
	case IZX:
		return fmt.Sprintf("%s ($%02X,X) {IZX}", mnemonic, ins.operandByte())
	case IZY:
		return fmt.Sprintf("%s ($%02X),Y {IZY}", mnemonic, ins.operandByte())
	default:
		return mnemonic
	}
}
