package jit

// AddressingMode enumerates the 6502's 12 addressing modes, reusing the
// teacher repo's naming (nes/addressingModes.go).
type AddressingMode int

const (
	IMP AddressingMode = iota
	IMM
	REL
	ZP0
	ZPX
	ZPY
	ABS
	ABX
	ABY
	IND
	IZX
	IZY
)

// OperandBytes reports how many bytes follow the opcode byte for mode.
func (m AddressingMode) OperandBytes() int {
	switch m {
	case IMP:
		return 0
	case ABS, ABX, ABY, IND:
		return 2
	default:
		return 1
	}
}

// OpcodeInfo describes one entry of the 256-slot opcode table.
type OpcodeInfo struct {
	Mnemonic string
	Mode     AddressingMode
	Official bool
}

// Length is the full encoded instruction length, opcode byte included.
func (o OpcodeInfo) Length() int { return 1 + o.Mode.OperandBytes() }

// BaseCycles approximates the 6502's per-addressing-mode instruction timing.
// It deliberately does not model the extra cycle taken on a page-crossing
// indexed read/branch-taken — those are a handful of cycles' difference that
// no caller of this module observes (there is no cycle-exact peripheral
// timing dependency in scope), and baking them in would require threading
// runtime address information back into a table keyed purely on mode.
func (m AddressingMode) BaseCycles() int {
	switch m {
	case IMP, IMM:
		return 2
	case ZP0:
		return 3
	case ZPX, ZPY, ABS:
		return 4
	case ABX, ABY:
		return 4
	case IND:
		return 5
	case IZX:
		return 6
	case IZY:
		return 5
	default:
		return 2
	}
}

// opcodeTable is the canonical 6502 encoding, transcribed from the
// datasheet-derived lookup table in the teacher repo's nes/cpu.go
// (Cpu6502.InstLookup). Unofficial opcodes (teacher's "XXX" catch-all) are
// zero-valued entries with Official=false; the decompiler treats any
// unofficial opcode byte purely as a trace terminator (spec non-goal: no
// unofficial-opcode interpretation), so their addressing mode is never
// consulted.
var opcodeTable = [256]OpcodeInfo{
	0x00: {"BRK", IMP, true}, 0x01: {"ORA", IZX, true}, 0x05: {"ORA", ZP0, true}, 0x06: {"ASL", ZP0, true},
	0x08: {"PHP", IMP, true}, 0x09: {"ORA", IMM, true}, 0x0A: {"ASL", IMP, true}, 0x0D: {"ORA", ABS, true}, 0x0E: {"ASL", ABS, true},

	0x10: {"BPL", REL, true}, 0x11: {"ORA", IZY, true}, 0x15: {"ORA", ZPX, true}, 0x16: {"ASL", ZPX, true},
	0x18: {"CLC", IMP, true}, 0x19: {"ORA", ABY, true}, 0x1D: {"ORA", ABX, true}, 0x1E: {"ASL", ABX, true},

	0x20: {"JSR", ABS, true}, 0x21: {"AND", IZX, true}, 0x24: {"BIT", ZP0, true}, 0x25: {"AND", ZP0, true}, 0x26: {"ROL", ZP0, true},
	0x28: {"PLP", IMP, true}, 0x29: {"AND", IMM, true}, 0x2A: {"ROL", IMP, true}, 0x2C: {"BIT", ABS, true}, 0x2D: {"AND", ABS, true}, 0x2E: {"ROL", ABS, true},

	0x30: {"BMI", REL, true}, 0x31: {"AND", IZY, true}, 0x35: {"AND", ZPX, true}, 0x36: {"ROL", ZPX, true},
	0x38: {"SEC", IMP, true}, 0x39: {"AND", ABY, true}, 0x3D: {"AND", ABX, true}, 0x3E: {"ROL", ABX, true},

	0x40: {"RTI", IMP, true}, 0x41: {"EOR", IZX, true}, 0x45: {"EOR", ZP0, true}, 0x46: {"LSR", ZP0, true},
	0x48: {"PHA", IMP, true}, 0x49: {"EOR", IMM, true}, 0x4A: {"LSR", IMP, true}, 0x4C: {"JMP", ABS, true}, 0x4D: {"EOR", ABS, true}, 0x4E: {"LSR", ABS, true},

	0x50: {"BVC", REL, true}, 0x51: {"EOR", IZY, true}, 0x55: {"EOR", ZPX, true}, 0x56: {"LSR", ZPX, true},
	0x58: {"CLI", IMP, true}, 0x59: {"EOR", ABY, true}, 0x5D: {"EOR", ABX, true}, 0x5E: {"LSR", ABX, true},

	0x60: {"RTS", IMP, true}, 0x61: {"ADC", IZX, true}, 0x65: {"ADC", ZP0, true}, 0x66: {"ROR", ZP0, true},
	0x68: {"PLA", IMP, true}, 0x69: {"ADC", IMM, true}, 0x6A: {"ROR", IMP, true}, 0x6C: {"JMP", IND, true}, 0x6D: {"ADC", ABS, true}, 0x6E: {"ROR", ABS, true},

	0x70: {"BVS", REL, true}, 0x71: {"ADC", IZY, true}, 0x75: {"ADC", ZPX, true}, 0x76: {"ROR", ZPX, true},
	0x78: {"SEI", IMP, true}, 0x79: {"ADC", ABY, true}, 0x7D: {"ADC", ABX, true}, 0x7E: {"ROR", ABX, true},

	0x81: {"STA", IZX, true}, 0x84: {"STY", ZP0, true}, 0x85: {"STA", ZP0, true}, 0x86: {"STX", ZP0, true},
	0x88: {"DEY", IMP, true}, 0x8A: {"TXA", IMP, true}, 0x8C: {"STY", ABS, true}, 0x8D: {"STA", ABS, true}, 0x8E: {"STX", ABS, true},

	0x90: {"BCC", REL, true}, 0x91: {"STA", IZY, true}, 0x94: {"STY", ZPX, true}, 0x95: {"STA", ZPX, true}, 0x96: {"STX", ZPY, true},
	0x98: {"TYA", IMP, true}, 0x99: {"STA", ABY, true}, 0x9A: {"TXS", IMP, true}, 0x9D: {"STA", ABX, true},

	0xA0: {"LDY", IMM, true}, 0xA1: {"LDA", IZX, true}, 0xA2: {"LDX", IMM, true}, 0xA4: {"LDY", ZP0, true}, 0xA5: {"LDA", ZP0, true}, 0xA6: {"LDX", ZP0, true},
	0xA8: {"TAY", IMP, true}, 0xA9: {"LDA", IMM, true}, 0xAA: {"TAX", IMP, true}, 0xAC: {"LDY", ABS, true}, 0xAD: {"LDA", ABS, true}, 0xAE: {"LDX", ABS, true},

	0xB0: {"BCS", REL, true}, 0xB1: {"LDA", IZY, true}, 0xB4: {"LDY", ZPX, true}, 0xB5: {"LDA", ZPX, true}, 0xB6: {"LDX", ZPY, true},
	0xB8: {"CLV", IMP, true}, 0xB9: {"LDA", ABY, true}, 0xBA: {"TSX", IMP, true}, 0xBC: {"LDY", ABX, true}, 0xBD: {"LDA", ABX, true}, 0xBE: {"LDX", ABY, true},

	0xC0: {"CPY", IMM, true}, 0xC1: {"CMP", IZX, true}, 0xC4: {"CPY", ZP0, true}, 0xC5: {"CMP", ZP0, true}, 0xC6: {"DEC", ZP0, true},
	0xC8: {"INY", IMP, true}, 0xC9: {"CMP", IMM, true}, 0xCA: {"DEX", IMP, true}, 0xCC: {"CPY", ABS, true}, 0xCD: {"CMP", ABS, true}, 0xCE: {"DEC", ABS, true},

	0xD0: {"BNE", REL, true}, 0xD1: {"CMP", IZY, true}, 0xD5: {"CMP", ZPX, true}, 0xD6: {"DEC", ZPX, true},
	0xD8: {"CLD", IMP, true}, 0xD9: {"CMP", ABY, true}, 0xDD: {"CMP", ABX, true}, 0xDE: {"DEC", ABX, true},

	0xE0: {"CPX", IMM, true}, 0xE1: {"SBC", IZX, true}, 0xE4: {"CPX", ZP0, true}, 0xE5: {"SBC", ZP0, true}, 0xE6: {"INC", ZP0, true},
	0xE8: {"INX", IMP, true}, 0xE9: {"SBC", IMM, true}, 0xEA: {"NOP", IMP, true}, 0xEC: {"CPX", ABS, true}, 0xED: {"SBC", ABS, true}, 0xEE: {"INC", ABS, true},

	0xF0: {"BEQ", REL, true}, 0xF1: {"SBC", IZY, true}, 0xF5: {"SBC", ZPX, true}, 0xF6: {"INC", ZPX, true},
	0xF8: {"SED", IMP, true}, 0xF9: {"SBC", ABY, true}, 0xFD: {"SBC", ABX, true}, 0xFE: {"INC", ABX, true},
}

// terminalMnemonics are the opcodes that end a trace path even though they
// are legal — the other boundary ("unrecognized opcode byte") is expressed
// by OpcodeInfo.Official being false.
var terminalMnemonics = map[string]bool{
	"RTS": true,
	"RTI": true,
	"BRK": true,
	"JSR": true,
	// indirect JMP is terminal; direct JMP is not (handled specially, see
	// decompile.go, because the mnemonic alone doesn't distinguish the mode).
}

func isConditionalBranch(mnemonic string) bool {
	switch mnemonic {
	case "BCC", "BCS", "BEQ", "BNE", "BMI", "BPL", "BVC", "BVS":
		return true
	}
	return false
}
