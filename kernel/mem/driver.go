// Package mem implements the dual-region heap manager: memory drivers,
// heap descriptors, the four allocation strategies, and the
// malloc/free/realloc/freeProcessMemory/memcpy surface, all serialized
// through a critical.Controller so every public operation is atomic.
package mem

import "github.com/mnghiap/spos/kernel/critical"

// Addr is a byte address within a driver's window.
type Addr uint32

// Driver abstracts byte read/write over a contiguous address window,
// It never reports errors: an out-of-window address is a
// precondition violation the caller (the heap manager) must catch first.
type Driver interface {
	Init()
	Read(addr Addr) byte
	Write(addr Addr, v byte)
	Start() Addr
	Size() uint32
}

// InternalDriver serves a window of on-chip RAM: a flat byte slice, no
// wire protocol, Init is a no-op.
type InternalDriver struct {
	start Addr
	data  []byte
}

// NewInternalDriver allocates size bytes of backing storage for a window
// beginning at start.
func NewInternalDriver(start Addr, size uint32) *InternalDriver {
	return &InternalDriver{start: start, data: make([]byte, size)}
}

func (d *InternalDriver) Init()        {}
func (d *InternalDriver) Start() Addr  { return d.start }
func (d *InternalDriver) Size() uint32 { return uint32(len(d.data)) }
func (d *InternalDriver) Read(a Addr) byte {
	return d.data[a-d.start]
}
func (d *InternalDriver) Write(a Addr, v byte) {
	d.data[a-d.start] = v
}

// SPIBus is the 3-wire SPI master transport a serial-attached external
// RAM chip is wired through: MSB-first, mode 0, one chip-select window
// per Transact call covering the whole command including its data byte,
// as the external RAM wire protocol requires.
type SPIBus interface {
	// Transact asserts chip-select, clocks out tx, clocks in rxLen
	// bytes, then deasserts chip-select. It returns the bytes clocked in
	// during the final rxLen byte-times of the transaction.
	Transact(tx []byte, rxLen int) []byte
}

// LoopbackChip is an in-memory stand-in for the serial RAM chip itself:
// it decodes the exact command encoding the wire protocol specifies (byte-mode init
// {0x01,0x00}; read {0x03,0x00,hi,lo}; write {0x02,0x00,hi,lo,value}) and
// stores bytes in a flat backing array. Used as the default SPIBus so the
// external heap is exercisable without real hardware.
type LoopbackChip struct {
	data []byte
}

// NewLoopbackChip allocates size bytes for the simulated chip.
func NewLoopbackChip(size uint32) *LoopbackChip {
	return &LoopbackChip{data: make([]byte, size)}
}

// Transact implements SPIBus.
func (c *LoopbackChip) Transact(tx []byte, rxLen int) []byte {
	if len(tx) == 0 {
		return nil
	}
	switch tx[0] {
	case 0x01: // byte-mode init, no data phase
		return nil
	case 0x03: // read: {0x03, 0x00, hi, lo}
		addr := uint32(tx[2])<<8 | uint32(tx[3])
		out := make([]byte, rxLen)
		for i := range out {
			if int(addr)+i < len(c.data) {
				out[i] = c.data[addr+uint32(i)]
			}
		}
		return out
	case 0x02: // write: {0x02, 0x00, hi, lo, value}
		addr := uint32(tx[2])<<8 | uint32(tx[3])
		if int(addr) < len(c.data) {
			c.data[addr] = tx[4]
		}
		return nil
	}
	return nil
}

// ExternalDriver serves a window backed by a serial-attached external
// RAM chip. Every Read/Write performs the full command sequence inside
// its own critical section so a preemption (e.g. a timer-driven process
// termination on another heap) cannot split the chip-select window —
// this nests correctly with a caller's own, outer critical section
// between a driver call and its surrounding caller.
type ExternalDriver struct {
	start Addr
	size  uint32
	bus   SPIBus
	cs    *critical.Controller
}

// NewExternalDriver wires a window beginning at start against bus,
// serialized by cs.
func NewExternalDriver(start Addr, size uint32, bus SPIBus, cs *critical.Controller) *ExternalDriver {
	return &ExternalDriver{start: start, size: size, bus: bus, cs: cs}
}

func (d *ExternalDriver) Init() {
	d.cs.Do(func() {
		d.bus.Transact([]byte{0x01, 0x00}, 0)
	})
}

func (d *ExternalDriver) Start() Addr  { return d.start }
func (d *ExternalDriver) Size() uint32 { return d.size }

func (d *ExternalDriver) Read(a Addr) byte {
	off := uint32(a - d.start)
	var v byte
	d.cs.Do(func() {
		rx := d.bus.Transact([]byte{0x03, 0x00, byte(off >> 8), byte(off)}, 1)
		if len(rx) == 1 {
			v = rx[0]
		}
	})
	return v
}

func (d *ExternalDriver) Write(a Addr, v byte) {
	off := uint32(a - d.start)
	d.cs.Do(func() {
		d.bus.Transact([]byte{0x02, 0x00, byte(off >> 8), byte(off), v}, 0)
	})
}
