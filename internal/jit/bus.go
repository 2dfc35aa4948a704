package jit

import "fmt"

// Device is a memory-mapped peripheral attached to a Bus. offset is relative
// to the device's attach base, not the full 16-bit address.
type Device interface {
	Size() int
	Read(offset uint16) (byte, error)
	Write(offset uint16, value byte) error
}

// CodeViewer is implemented by devices that can expose a contiguous,
// directly-addressable byte slice of their contents — the shape the
// decompiler needs to walk instruction bytes without going through
// Read/Write. RAM and ROM implement it; a bank-switched device only does so
// for its currently selected bank.
type CodeViewer interface {
	RawCodeView() []byte
}

type attachedDevice struct {
	device Device
	base   uint16
}

// Bus is the flat 64KiB 6502 address space, partitioned by attached
// devices. Every address resolves to at most one device.
type Bus struct {
	devices []*attachedDevice
	index   [65536]*attachedDevice

	writeListeners []func(addr uint16)
}

// NewBus creates an empty bus with no devices attached.
func NewBus() *Bus {
	return &Bus{}
}

// Attach installs device at [base, base+device.Size()). Overlapping an
// existing device without allowOverride fails with ErrBusConflict; with
// allowOverride the new device claims the overlapping addresses while the
// prior device keeps serving any addresses outside the overlap.
func (b *Bus) Attach(device Device, base uint16, allowOverride bool) error {
	size := device.Size()
	if size <= 0 || size > 65536 {
		return fmt.Errorf("%w: device size %d out of range", ErrBusConfig, size)
	}
	end := int(base) + size
	if end > 65536 {
		return fmt.Errorf("%w: device at base %#04x size %d exceeds address space", ErrBusConfig, base, size)
	}

	if !allowOverride {
		for a := int(base); a < end; a++ {
			if b.index[a] != nil {
				return fmt.Errorf("%w: address %#04x already claimed by an attached device", ErrBusConflict, a)
			}
		}
	}

	ad := &attachedDevice{device: device, base: base}
	b.devices = append(b.devices, ad)
	for a := int(base); a < end; a++ {
		b.index[a] = ad
	}
	return nil
}

// Read returns the byte at address, or ErrUnmapped if no device claims it.
func (b *Bus) Read(address uint16) (byte, error) {
	ad := b.index[address]
	if ad == nil {
		return 0, fmt.Errorf("%w: read from %#04x", ErrUnmapped, address)
	}
	return ad.device.Read(address - ad.base)
}

// Write stores value at address, or fails with ErrUnmapped. On success it
// invokes every registered write listener exactly once, in registration
// order, with the full 16-bit address.
func (b *Bus) Write(address uint16, value byte) error {
	ad := b.index[address]
	if ad == nil {
		return fmt.Errorf("%w: write to %#04x", ErrUnmapped, address)
	}
	if err := ad.device.Write(address-ad.base, value); err != nil {
		return err
	}
	for _, listener := range b.writeListeners {
		listener(address)
	}
	return nil
}

// OnMemoryWritten registers a listener invoked after every successful Write.
func (b *Bus) OnMemoryWritten(listener func(addr uint16)) {
	b.writeListeners = append(b.writeListeners, listener)
}

// CodeRegion is a contiguous slice of 6502 address space exposed by a device
// as readable bytes suitable for disassembly.
type CodeRegion struct {
	Base  uint16
	Bytes []byte
}

// EnumerateCodeRegions yields one CodeRegion per attached device that
// exposes a CodeViewer, in attach order.
func (b *Bus) EnumerateCodeRegions() []CodeRegion {
	var regions []CodeRegion
	for _, ad := range b.devices {
		if cv, ok := ad.device.(CodeViewer); ok {
			regions = append(regions, CodeRegion{Base: ad.base, Bytes: cv.RawCodeView()})
		}
	}
	return regions
}

// ReadByteAt locates the code region (if any) containing address and
// returns the byte there plus ok=true; used by the decompiler, which must
// not trigger bus write-listener side effects while tracing.
func (b *Bus) ReadByteAt(address uint16) (byte, bool) {
	ad := b.index[address]
	if ad == nil {
		return 0, false
	}
	if cv, ok := ad.device.(CodeViewer); ok {
		view := cv.RawCodeView()
		off := int(address - ad.base)
		if off >= 0 && off < len(view) {
			return view[off], true
		}
		return 0, false
	}
	v, err := ad.device.Read(address - ad.base)
	return v, err == nil
}

// RAM is a fixed-size read/write device, zero-initialized.
type RAM struct {
	mem []byte
}

// NewRAM allocates a RAM device of the given size.
func NewRAM(size int) *RAM { return &RAM{mem: make([]byte, size)} }

func (r *RAM) Size() int { return len(r.mem) }

func (r *RAM) Read(offset uint16) (byte, error) {
	if int(offset) >= len(r.mem) {
		return 0, fmt.Errorf("%w: offset %#04x", ErrUnmapped, offset)
	}
	return r.mem[offset], nil
}

func (r *RAM) Write(offset uint16, value byte) error {
	if int(offset) >= len(r.mem) {
		return fmt.Errorf("%w: offset %#04x", ErrUnmapped, offset)
	}
	r.mem[offset] = value
	return nil
}

func (r *RAM) RawCodeView() []byte { return r.mem }

// ROM is a fixed-size read-only device backed by a caller-supplied image.
// Writes are rejected rather than silently ignored, matching the teacher
// repo's distinction between "ROM" and "null" devices.
type ROM struct {
	mem []byte
}

// NewROM wraps image as a read-only device. image is not copied; callers
// must not mutate it afterward.
func NewROM(image []byte) *ROM { return &ROM{mem: image} }

func (r *ROM) Size() int { return len(r.mem) }

func (r *ROM) Read(offset uint16) (byte, error) {
	if int(offset) >= len(r.mem) {
		return 0, fmt.Errorf("%w: offset %#04x", ErrUnmapped, offset)
	}
	return r.mem[offset], nil
}

func (r *ROM) Write(offset uint16, value byte) error {
	return fmt.Errorf("%w: write to read-only device at offset %#04x", ErrUnmapped, offset)
}

func (r *ROM) RawCodeView() []byte { return r.mem }

// NullDevice reads as zero everywhere and discards writes. Useful for
// padding out address ranges a test doesn't care about.
type NullDevice struct {
	size int
}

// NewNullDevice creates a null device of the given size.
func NewNullDevice(size int) *NullDevice { return &NullDevice{size: size} }

func (n *NullDevice) Size() int                         { return n.size }
func (n *NullDevice) Read(uint16) (byte, error)         { return 0, nil }
func (n *NullDevice) Write(uint16, byte) error          { return nil }

// BankSwitched wraps a larger backing image than its attach window and
// exposes only the currently selected bank through Read/Write/RawCodeView,
// generalizing the address-masking trick cartridge mappers use (bank index
// selects which windowBytes-sized slice of the backing image is visible).
type BankSwitched struct {
	backing     []byte
	windowBytes int
	bank        int
}

// NewBankSwitched creates a bank-switched device over backing, exposing
// windowBytes at a time starting at bank 0.
func NewBankSwitched(backing []byte, windowBytes int) *BankSwitched {
	return &BankSwitched{backing: backing, windowBytes: windowBytes}
}

func (bs *BankSwitched) Size() int { return bs.windowBytes }

func (bs *BankSwitched) bankCount() int {
	if bs.windowBytes == 0 {
		return 0
	}
	return len(bs.backing) / bs.windowBytes
}

// SelectBank switches the visible window. Out-of-range banks wrap, matching
// the teacher's mapper-000 mirroring behavior for undersized ROM images.
func (bs *BankSwitched) SelectBank(n int) {
	if count := bs.bankCount(); count > 0 {
		bs.bank = ((n % count) + count) % count
	}
}

func (bs *BankSwitched) offset(local uint16) int {
	return bs.bank*bs.windowBytes + int(local)
}

func (bs *BankSwitched) Read(offset uint16) (byte, error) {
	idx := bs.offset(offset)
	if int(offset) >= bs.windowBytes || idx >= len(bs.backing) {
		return 0, fmt.Errorf("%w: offset %#04x", ErrUnmapped, offset)
	}
	return bs.backing[idx], nil
}

func (bs *BankSwitched) Write(offset uint16, value byte) error {
	idx := bs.offset(offset)
	if int(offset) >= bs.windowBytes || idx >= len(bs.backing) {
		return fmt.Errorf("%w: offset %#04x", ErrUnmapped, offset)
	}
	bs.backing[idx] = value
	return nil
}

func (bs *BankSwitched) RawCodeView() []byte {
	start := bs.bank * bs.windowBytes
	end := start + bs.windowBytes
	if end > len(bs.backing) {
		end = len(bs.backing)
	}
	return bs.backing[start:end]
}
