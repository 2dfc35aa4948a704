package jit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// compileStraightLine decompiles, lifts, and generates the function at
// entry, with no self-modifying-code targets assumed.
func compileStraightLine(t *testing.T, bus *Bus, entry uint16) Routine {
	t.Helper()
	fn, err := Decompile(bus, entry)
	require.NoError(t, err)
	seq, addrs, err := LiftFunction(fn, nil)
	require.NoError(t, err)
	routine, err := Generate(seq, addrs)
	require.NoError(t, err)
	return routine
}

// primeReturnStack pushes a dummy two-byte return address so a trailing RTS
// in a test program has something valid to pop.
func primeReturnStack(t *testing.T, cpu *CPU) {
	t.Helper()
	require.NoError(t, cpu.PushToStack(0x00))
	require.NoError(t, cpu.PushToStack(0x00))
}

func TestScenarioLDAImmediateSetsZeroFlag(t *testing.T) {
	bus := romBus(t, 0x8000, []byte{0xA9, 0x00, 0x60}) // LDA #$00 ; RTS
	routine := compileStraightLine(t, bus, 0x8000)

	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)

	_, err := routine(context.Background(), cpu)
	require.NoError(t, err)

	require.Equal(t, byte(0), cpu.ARegister())
	require.True(t, cpu.GetFlag(FlagZero))
	require.False(t, cpu.GetFlag(FlagNegative))
}

func TestScenarioLDAImmediateSetsNegativeFlag(t *testing.T) {
	bus := romBus(t, 0x8000, []byte{0xA9, 0x80, 0x60}) // LDA #$80 ; RTS
	routine := compileStraightLine(t, bus, 0x8000)

	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)

	_, err := routine(context.Background(), cpu)
	require.NoError(t, err)

	require.Equal(t, byte(0x80), cpu.ARegister())
	require.False(t, cpu.GetFlag(FlagZero))
	require.True(t, cpu.GetFlag(FlagNegative))
}

func TestScenarioADCCarryAndSignedOverflow(t *testing.T) {
	bus := romBus(t, 0x8000, []byte{0x69, 0x50, 0x60}) // ADC #$50 ; RTS
	routine := compileStraightLine(t, bus, 0x8000)

	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)
	cpu.SetARegister(0x50)
	cpu.SetFlag(FlagCarry, true)

	_, err := routine(context.Background(), cpu)
	require.NoError(t, err)

	require.Equal(t, byte(0xA1), cpu.ARegister(), "0x50 + 0x50 + carry(1) = 0xA1")
	require.False(t, cpu.GetFlag(FlagCarry), "0xA1 <= 0xFF, no unsigned carry out")
	require.True(t, cpu.GetFlag(FlagOverflow), "two positive operands producing a negative result is a signed overflow")
	require.True(t, cpu.GetFlag(FlagNegative))
	require.False(t, cpu.GetFlag(FlagZero))
}

func TestScenarioSBCBorrowsWhenCarryClear(t *testing.T) {
	bus := romBus(t, 0x8000, []byte{0xE9, 0x01, 0x60}) // SBC #$01 ; RTS
	routine := compileStraightLine(t, bus, 0x8000)

	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)
	cpu.SetARegister(0x00)
	cpu.SetFlag(FlagCarry, false) // clear carry means "borrow pending"

	_, err := routine(context.Background(), cpu)
	require.NoError(t, err)

	// 0x00 - 0x01 - (1 - 0) = 0xFE
	require.Equal(t, byte(0xFE), cpu.ARegister())
	require.False(t, cpu.GetFlag(FlagCarry), "result borrowed, so carry stays clear")
}

func TestScenarioJSRPushesReturnAddressMinusOne(t *testing.T) {
	// $8000: JSR $8003 (3 bytes) ; $8003: RTS
	bus := NewBus()
	require.NoError(t, bus.Attach(NewRAM(0x0200), 0x0000, false))
	require.NoError(t, bus.Attach(NewROM([]byte{0x20, 0x03, 0x80, 0x60}), 0x8000, false))

	cache := NewCache(nil)
	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)

	callerEntry, err := cache.Compile(bus, 0x8000)
	require.NoError(t, err)

	next, err := callerEntry.Routine(context.Background(), cpu)
	require.NoError(t, err)
	require.EqualValues(t, 0x8003, next, "JSR hands control to the callee address")

	lo, _ := bus.Read(0x01FE)
	hi, _ := bus.Read(0x01FF)
	require.Equal(t, byte(0x02), lo)
	require.Equal(t, byte(0x80), hi, "JSR pushes (return_address - 1); $8000 + 3 - 1 = $8002")
	require.Equal(t, byte(0xFD), cpu.StackPointer())

	calleeEntry, err := cache.Compile(bus, uint16(next))
	require.NoError(t, err)

	resumeAt, err := calleeEntry.Routine(context.Background(), cpu)
	require.NoError(t, err)
	require.EqualValues(t, 0x8003, resumeAt, "RTS resumes at the instruction after JSR")
	require.Equal(t, byte(0xFF), cpu.StackPointer(), "RTS balances JSR's pushes")
}

func TestScenarioIndirectJMPPageBoundaryBug(t *testing.T) {
	// JMP ($30FF): a real 6502 incorrectly fetches the high byte from $3000
	// rather than $3100.
	bus := NewBus()
	require.NoError(t, bus.Attach(NewRAM(0x4000), 0x0000, false))
	require.NoError(t, bus.Attach(NewROM([]byte{0x6C, 0xFF, 0x30}), 0x8000, false))

	require.NoError(t, bus.Write(0x30FF, 0x40))
	require.NoError(t, bus.Write(0x3000, 0x12)) // the buggy source of the high byte
	require.NoError(t, bus.Write(0x3100, 0x99)) // must be ignored

	routine := compileStraightLine(t, bus, 0x8000)
	cpu := NewCPU(bus)

	next, err := routine(context.Background(), cpu)
	require.NoError(t, err)
	require.EqualValues(t, 0x1240, next)
}

func TestScenarioSelfModifyingOperandIsReadLive(t *testing.T) {
	// LDA $10 ; RTS, where $10 is known up front to be rewritten before this
	// compiled entry runs a second time.
	bus := NewBus()
	require.NoError(t, bus.Attach(NewRAM(0x0200), 0x0000, false))
	// The code lives in RAM: ROM rejects writes, and this test rewrites it.
	code := NewRAM(3)
	copy(code.mem, []byte{0xA5, 0x10, 0x60})
	require.NoError(t, bus.Attach(code, 0x8000, false))
	require.NoError(t, bus.Write(0x0010, 0x07))

	fn, err := Decompile(bus, 0x8000)
	require.NoError(t, err)

	// The operand byte of LDA (at $8001) is the self-modification target.
	smc := map[uint16]bool{0x8001: true}
	seq, addrs, err := LiftFunction(fn, smc)
	require.NoError(t, err)
	routine, err := Generate(seq, addrs)
	require.NoError(t, err)

	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)
	_, err = routine(context.Background(), cpu)
	require.NoError(t, err)
	require.Equal(t, byte(0x07), cpu.ARegister())

	// Patch the LDA operand itself to point at a different zero-page cell...
	require.NoError(t, bus.Write(0x8001, 0x11))
	require.NoError(t, bus.Write(0x0011, 0x2A))

	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)
	_, err = routine(context.Background(), cpu)
	require.NoError(t, err)
	require.Equal(t, byte(0x2A), cpu.ARegister(), "Dynamic operand resolution re-reads the rewritten pointer")
}

func TestScenarioBusOverlapRejectedBeforeExecution(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Attach(NewRAM(0x1000), 0x0000, false))
	err := bus.Attach(NewROM([]byte{0, 0}), 0x0FFE, false)
	require.ErrorIs(t, err, ErrBusConflict)
}

func TestScenarioInterruptPollingYieldsToNMIVector(t *testing.T) {
	// LDX #$01 ; LDY #$02 ; RTS. A pending NMI is already latched before the
	// routine starts, so the poll WithInterruptPolling inserts ahead of the
	// first instruction group must catch it before LDX ever runs.
	bus := NewBus()
	require.NoError(t, bus.Attach(NewRAM(0x0200), 0x0000, false))
	require.NoError(t, bus.Attach(NewROM([]byte{0xA2, 0x01, 0xA0, 0x02, 0x60}), 0x8000, false))
	require.NoError(t, bus.Attach(NewRAM(0x0006), 0xFFFA, false)) // interrupt vectors
	require.NoError(t, bus.Write(0xFFFA, 0x00))
	require.NoError(t, bus.Write(0xFFFB, 0x90)) // NMI vector -> $9000

	fn, err := Decompile(bus, 0x8000)
	require.NoError(t, err)
	seq, addrs, err := LiftFunction(fn, nil)
	require.NoError(t, err)
	seq, addrs = WithInterruptPolling(fn, seq, addrs)
	routine, err := Generate(seq, addrs)
	require.NoError(t, err)

	cpu := NewCPU(bus)
	cpu.RequestNMI()

	next, err := routine(context.Background(), cpu)
	require.NoError(t, err)
	require.EqualValues(t, 0x9000, next, "a latched NMI redirects control at the very first poll")
	require.Equal(t, byte(0), cpu.XRegister(), "LDX must not have run yet")
	require.Equal(t, byte(0), cpu.YRegister(), "LDY must not have run")
}

func TestScenarioInterruptPollingIgnoresAbsentInterrupt(t *testing.T) {
	bus := romBus(t, 0x8000, []byte{0xA9, 0x07, 0x60}) // LDA #$07 ; RTS
	cpu := NewCPU(bus)
	cpu.SetStackPointer(0xFF)
	primeReturnStack(t, cpu)

	fn, err := Decompile(bus, 0x8000)
	require.NoError(t, err)
	seq, addrs, err := LiftFunction(fn, nil)
	require.NoError(t, err)
	seq, addrs = WithInterruptPolling(fn, seq, addrs)
	routine, err := Generate(seq, addrs)
	require.NoError(t, err)

	_, err = routine(context.Background(), cpu)
	require.NoError(t, err)
	require.Equal(t, byte(0x07), cpu.ARegister())
}
