package jit

import "context"

// HAL is the hardware-abstraction layer that generated routines drive. It
// owns the 6502 register file and forwards memory/stack traffic to a Bus.
//
// Unlike a classic emulator's CPU struct, a HAL has no program-counter
// field: control flow is encoded by whichever compiled routine is currently
// executing. CurrentInstructionAddress exists for diagnostics and for
// TriggerSoftwareInterrupt to compute BRK's return address; the
// self-modifying-code tracker attributes writes to a function through
// Cache.BeginExecution instead.
type HAL interface {
	ReadMemory(addr uint16) (byte, error)
	WriteMemory(addr uint16, value byte) error

	PushToStack(value byte) error
	PopFromStack() (byte, error)

	GetFlag(f Flag) bool
	SetFlag(f Flag, set bool)

	ProcessorStatus() byte
	SetProcessorStatus(status byte)

	ARegister() byte
	SetARegister(byte)
	XRegister() byte
	SetXRegister(byte)
	YRegister() byte
	SetYRegister(byte)
	StackPointer() byte
	SetStackPointer(byte)

	CurrentInstructionAddress() uint16
	SetCurrentInstructionAddress(uint16)

	// IncrementCPUCycleCount advances the peripheral-visible cycle clock by
	// count cycles. It may observe cancellation (via ctx) and return
	// ErrCancelled, which the scheduler propagates and uses to unwind
	// cleanly.
	IncrementCPUCycleCount(ctx context.Context, count int) error

	// PollForInterrupt returns 0 if no interrupt is pending, or the 16-bit
	// vector address to service (read from $FFFA/B, $FFFC/D or $FFFE/F).
	PollForInterrupt() uint16

	// TriggerSoftwareInterrupt implements BRK: it pushes the return address
	// (the BRK instruction's address plus its padding byte), pushes status
	// with the break bit set, raises the interrupt-disable flag, and returns
	// the IRQ/BRK vector address the generated routine should hand back to
	// the scheduler as its next address.
	TriggerSoftwareInterrupt() (uint16, error)

	DebugHook(text string)
}

const (
	nmiVectorAddr   uint16 = 0xFFFA
	resetVectorAddr uint16 = 0xFFFC
	irqVectorAddr   uint16 = 0xFFFE

	stackBase uint16 = 0x0100
)

// CPU is the default HAL implementation: the register file plus a Bus.
// Nothing about it is process-global — every emulator instance owns one, so
// a second instance in the same process never cross-talks with the first.
type CPU struct {
	a, x, y byte
	sp      byte
	status  byte

	currentInstructionAddr uint16

	bus *Bus

	// DebugSink receives DebugHook text. Nil means discard. Kept as a plain
	// func rather than an interface so callers can plug in a *zap.SugaredLogger,
	// a test recorder, or nothing, without this package depending on zap.
	DebugSink func(string)

	pendingNMI bool
}

// NewCPU creates a HAL wired to bus, with power-on register values matching
// real 6502 hardware (SP settles at 0xFD after reset's three phantom stack
// pushes; status has the unused and interrupt-disable bits set).
func NewCPU(bus *Bus) *CPU {
	return &CPU{
		sp:     0xFD,
		status: packStatus(byte(FlagInterruptDisable)),
		bus:    bus,
	}
}

func (c *CPU) ReadMemory(addr uint16) (byte, error) { return c.bus.Read(addr) }

func (c *CPU) WriteMemory(addr uint16, value byte) error {
	return c.bus.Write(addr, value)
}

func (c *CPU) PushToStack(value byte) error {
	err := c.bus.Write(stackBase|uint16(c.sp), value)
	c.sp--
	return err
}

func (c *CPU) PopFromStack() (byte, error) {
	if c.sp == 0xFF {
		return 0, ErrStackUnderflow
	}
	c.sp++
	return c.bus.Read(stackBase | uint16(c.sp))
}

func (c *CPU) GetFlag(f Flag) bool { return c.status&byte(f) != 0 }

func (c *CPU) SetFlag(f Flag, set bool) {
	if set {
		c.status |= byte(f)
	} else {
		c.status &^= byte(f)
	}
}

func (c *CPU) ProcessorStatus() byte { return packStatus(c.status) }

func (c *CPU) SetProcessorStatus(status byte) { c.status = packStatus(status) }

func (c *CPU) ARegister() byte     { return c.a }
func (c *CPU) SetARegister(v byte) { c.a = v }
func (c *CPU) XRegister() byte     { return c.x }
func (c *CPU) SetXRegister(v byte) { c.x = v }
func (c *CPU) YRegister() byte     { return c.y }
func (c *CPU) SetYRegister(v byte) { c.y = v }
func (c *CPU) StackPointer() byte  { return c.sp }
func (c *CPU) SetStackPointer(v byte) { c.sp = v }

func (c *CPU) CurrentInstructionAddress() uint16 { return c.currentInstructionAddr }
func (c *CPU) SetCurrentInstructionAddress(addr uint16) {
	c.currentInstructionAddr = addr
}

func (c *CPU) IncrementCPUCycleCount(ctx context.Context, count int) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// PollForInterrupt reports the pending-NMI latch set by peripheral code, or
// 0 when nothing is pending. IRQ and RESET are not polled here: ResetVector
// reads the reset vector, and TriggerSoftwareInterrupt reads the IRQ/BRK one.
func (c *CPU) PollForInterrupt() uint16 {
	if c.pendingNMI {
		c.pendingNMI = false
		vec, _ := c.readVector(nmiVectorAddr)
		return vec
	}
	// no IRQ source is modeled at the HAL level; peripherals raise NMI only
	return 0
}

// RequestNMI latches a pending non-maskable interrupt, to be picked up on
// the next PollForInterrupt call. Peripheral threads call this; see §5.
func (c *CPU) RequestNMI() { c.pendingNMI = true }

func (c *CPU) readVector(addr uint16) (uint16, error) {
	lo, err := c.bus.Read(addr)
	if err != nil {
		return 0, err
	}
	hi, err := c.bus.Read(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// ResetVector reads the reset vector at $FFFC/D.
func (c *CPU) ResetVector() (uint16, error) { return c.readVector(resetVectorAddr) }

func (c *CPU) TriggerSoftwareInterrupt() (uint16, error) {
	// BRK is a two-byte instruction in practice: the byte after the opcode is
	// a padding/signature byte that real monitors use to identify the break
	// site. The pushed return address accounts for it.
	ret := c.currentInstructionAddr + 2
	if err := c.PushToStack(byte(ret >> 8)); err != nil {
		return 0, err
	}
	if err := c.PushToStack(byte(ret)); err != nil {
		return 0, err
	}
	if err := c.PushToStack(c.status | byte(FlagBreak)); err != nil {
		return 0, err
	}
	c.SetFlag(FlagInterruptDisable, true)
	return c.readVector(irqVectorAddr)
}

func (c *CPU) DebugHook(text string) {
	if c.DebugSink != nil {
		c.DebugSink(text)
	}
}
