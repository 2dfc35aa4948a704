package jit

import "testing"

func newTestCPU(t *testing.T) (*Bus, *CPU) {
	t.Helper()
	bus := NewBus()
	if err := bus.Attach(NewRAM(0x10000), 0x0000, false); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return bus, NewCPU(bus)
}

func TestNewCPUPowerOnState(t *testing.T) {
	_, cpu := newTestCPU(t)

	tests := []struct {
		got, want interface{}
	}{
		{cpu.StackPointer(), byte(0xFD)},
		{cpu.GetFlag(FlagInterruptDisable), true},
		{cpu.GetFlag(FlagCarry), false},
		{cpu.ARegister(), byte(0)},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("got %v, want %v", test.got, test.want)
		}
	}
}

func TestSetFlagAndGetFlag(t *testing.T) {
	_, cpu := newTestCPU(t)

	cpu.SetFlag(FlagZero, true)
	cpu.SetFlag(FlagNegative, true)
	cpu.SetFlag(FlagCarry, false)

	tests := []struct {
		got, want interface{}
	}{
		{cpu.GetFlag(FlagZero), true},
		{cpu.GetFlag(FlagNegative), true},
		{cpu.GetFlag(FlagCarry), false},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("got %v, want %v", test.got, test.want)
		}
	}
}

func TestProcessorStatusAlwaysSetsUnusedBit(t *testing.T) {
	_, cpu := newTestCPU(t)
	cpu.SetProcessorStatus(0x00)
	if cpu.ProcessorStatus()&byte(flagUnused) == 0 {
		t.Errorf("got status %#02x, want unused bit set", cpu.ProcessorStatus())
	}
}

func TestPushPopStackRoundTrip(t *testing.T) {
	_, cpu := newTestCPU(t)
	cpu.SetStackPointer(0xFF)

	if err := cpu.PushToStack(0x80); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := cpu.PushToStack(0x02); err != nil {
		t.Fatalf("push: %v", err)
	}

	lo, err := cpu.PopFromStack()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	hi, err := cpu.PopFromStack()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}

	if lo != 0x02 || hi != 0x80 {
		t.Errorf("got (lo=%#02x hi=%#02x), want (lo=0x02 hi=0x80)", lo, hi)
	}
	if cpu.StackPointer() != 0xFF {
		t.Errorf("got sp %#02x, want 0xff after balanced push/pop", cpu.StackPointer())
	}
}

func TestPopFromStackUnderflow(t *testing.T) {
	_, cpu := newTestCPU(t)
	cpu.SetStackPointer(0xFF)
	if _, err := cpu.PopFromStack(); err == nil {
		t.Fatal("expected ErrStackUnderflow, got nil")
	}
}

func TestTriggerSoftwareInterruptPushesReturnAddressPlusTwo(t *testing.T) {
	bus, cpu := newTestCPU(t)
	cpu.SetStackPointer(0xFF)
	cpu.SetCurrentInstructionAddress(0x8000)
	// IRQ/BRK vector
	bus.Write(0xFFFE, 0x00)
	bus.Write(0xFFFF, 0x90)

	vector, err := cpu.TriggerSoftwareInterrupt()
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if vector != 0x9000 {
		t.Errorf("got vector %#04x, want 0x9000", vector)
	}

	statusByte, _ := bus.Read(0x01FD)
	lo, _ := bus.Read(0x01FE)
	hi, _ := bus.Read(0x01FF)
	if hi != 0x80 || lo != 0x02 {
		t.Errorf("got pushed return address (hi=%#02x lo=%#02x), want (hi=0x80 lo=0x02)", hi, lo)
	}
	if statusByte&byte(FlagBreak) == 0 {
		t.Errorf("got status %#02x, want break bit set", statusByte)
	}
	if !cpu.GetFlag(FlagInterruptDisable) {
		t.Error("expected interrupt-disable flag set after BRK")
	}
}

func TestPollForInterruptHonorsNMILatch(t *testing.T) {
	bus, cpu := newTestCPU(t)
	bus.Write(0xFFFA, 0x34)
	bus.Write(0xFFFB, 0x12)

	if v := cpu.PollForInterrupt(); v != 0 {
		t.Errorf("got %#04x before RequestNMI, want 0", v)
	}

	cpu.RequestNMI()
	if v := cpu.PollForInterrupt(); v != 0x1234 {
		t.Errorf("got %#04x, want 0x1234", v)
	}
	if v := cpu.PollForInterrupt(); v != 0 {
		t.Errorf("got %#04x after latch consumed, want 0", v)
	}
}
