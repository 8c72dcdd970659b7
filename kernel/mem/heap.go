package mem

import "github.com/mnghiap/spos/kernel/critical"

// Strategy names one of the four allocation strategies.
type Strategy int

const (
	FirstFit Strategy = iota
	NextFit
	BestFit
	WorstFit
)

func (s Strategy) String() string {
	switch s {
	case FirstFit:
		return "first-fit"
	case NextFit:
		return "next-fit"
	case BestFit:
		return "best-fit"
	case WorstFit:
		return "worst-fit"
	default:
		return "unknown"
	}
}

// continuationNibble (0xF) marks every byte of a chunk after its owner
// header byte. Because it is reserved, only owner ids 1..maxOwner fit in
// the 4-bit field.
const continuationNibble = 0xF

// maxOwner is the largest process id that can own memory. 0 marks a free
// byte and 0xF is continuationNibble, so only 1..14 remain for owner ids
// in the 4-bit field; config.Validate rejects MaxProcesses-1 > 14 to
// match this exactly.
const maxOwner = 14

// FatalFunc is invoked for boundary and ownership violations, which are
// treated as fatal: display a message, halt until acknowledged. This port never actually halts the process running the
// Go code — it calls FatalFunc and then returns the operation's
// "no-op" result, exactly as "the caller follows the error() call with a
// return" describes for exec/kill-style operations.
type FatalFunc func(msg string, fields map[string]any)

// Heap is the geometry-plus-policy descriptor: a map region (one nibble
// per use byte, so half the use region's size) and a use region, sharing
// a single backing Driver.
type Heap struct {
	Name string

	driver   Driver
	mapStart Addr
	mapSize  uint32
	useStart Addr
	useSize  uint32

	strategy      Strategy
	nextFitCursor Addr

	frameStart [maxOwner + 1]Addr
	frameEnd   [maxOwner + 1]Addr

	cs    *critical.Controller
	fatal FatalFunc
}

// New builds a heap over driver's window: useSize bytes of use region
// starting right after ceil(useSize/2) bytes of map, both backed by
// driver starting at driver.Start() — "the map region is exactly half
// the size of the use region. driver.Size() must be at least
// mapSize+useSize.
func New(name string, driver Driver, useSize uint32, strategy Strategy, cs *critical.Controller, fatal FatalFunc) *Heap {
	mapSize := (useSize + 1) / 2
	start := driver.Start()
	return &Heap{
		Name:     name,
		driver:   driver,
		mapStart: start,
		mapSize:  mapSize,
		useStart: start + Addr(mapSize),
		useSize:  useSize,
		strategy: strategy,
		cs:       cs,
		fatal:    fatal,
	}
}

// Zero clears every map byte to 0, as bootstrap does for every heap
// before any process runs, as bootstrap does.
func (h *Heap) Zero() {
	h.cs.Do(func() {
		for i := uint32(0); i < h.mapSize; i++ {
			h.driver.Write(h.mapStart+Addr(i), 0)
		}
	})
}

func (h *Heap) MapStart() Addr  { return h.mapStart }
func (h *Heap) MapSize() uint32 { return h.mapSize }
func (h *Heap) UseStart() Addr  { return h.useStart }
func (h *Heap) UseSize() uint32 { return h.useSize }
func (h *Heap) useEnd() Addr    { return h.useStart + Addr(h.useSize) }

func (h *Heap) inUseWindow(a Addr) bool {
	return a >= h.useStart && a < h.useEnd()
}

// SetAllocationStrategy / GetAllocationStrategy.
func (h *Heap) SetAllocationStrategy(s Strategy) {
	h.cs.Do(func() { h.strategy = s })
}

func (h *Heap) GetAllocationStrategy() Strategy {
	var s Strategy
	h.cs.Do(func() { s = h.strategy })
	return s
}

// nibbleHalf reports, for a use-byte address, whether its map nibble is
// the high (0) or low (1) half of its map byte. The half is computed
// from (addr-useStart)'s parity, never addr's own parity directly — the
// portable fix for an `addr%2` bug in an earlier source variant.
func (h *Heap) nibbleHalf(a Addr) uint {
	return uint(a-h.useStart) % 2
}

func (h *Heap) mapByteAddr(a Addr) Addr {
	return h.mapStart + Addr(uint32(a-h.useStart)/2)
}

// GetMapEntry reads the raw nibble (0x0..0xF) for a use-byte address.
func (h *Heap) GetMapEntry(a Addr) byte {
	if !h.inUseWindow(a) {
		h.violate("map read out of range", map[string]any{"heap": h.Name, "addr": a})
		return 0
	}
	var n byte
	h.cs.Do(func() { n = h.mapNibbleUnlocked(a) })
	return n
}

// mapNibbleUnlocked must only be called with the controller already
// entered (strategies and manager operations call it from inside Do).
func (h *Heap) mapNibbleUnlocked(a Addr) byte {
	b := h.driver.Read(h.mapByteAddr(a))
	if h.nibbleHalf(a) == 0 {
		return b >> 4
	}
	return b & 0x0F
}

func (h *Heap) setMapNibbleUnlocked(a Addr, v byte) {
	mb := h.mapByteAddr(a)
	b := h.driver.Read(mb)
	if h.nibbleHalf(a) == 0 {
		b = (b & 0x0F) | (v << 4)
	} else {
		b = (b & 0xF0) | (v & 0x0F)
	}
	h.driver.Write(mb, b)
}

func (h *Heap) violate(msg string, fields map[string]any) {
	if h.fatal != nil {
		h.fatal(msg, fields)
	}
}

// GetOwner returns the owner id of the chunk containing a, or 0 if a
// lies in a free run.
func (h *Heap) GetOwner(a Addr) uint8 {
	var owner uint8
	h.cs.Do(func() {
		first := h.firstByteOfChunkUnlocked(a)
		owner = h.mapNibbleUnlocked(first)
	})
	return owner
}

// FirstByteOfChunk implements the backward walk to a chunk's header byte.
func (h *Heap) FirstByteOfChunk(a Addr) Addr {
	var first Addr
	h.cs.Do(func() { first = h.firstByteOfChunkUnlocked(a) })
	return first
}

func (h *Heap) firstByteOfChunkUnlocked(a Addr) Addr {
	n := h.mapNibbleUnlocked(a)
	cur := a
	if n == continuationNibble {
		for cur > h.useStart && h.mapNibbleUnlocked(cur) == continuationNibble {
			cur--
		}
		return cur
	}
	if n == 0 {
		for cur > h.useStart && h.mapNibbleUnlocked(cur-1) == 0 {
			cur--
		}
		return cur
	}
	return cur
}

// ChunkSize is the restricted query: 0 for free regions.
func (h *Heap) ChunkSize(a Addr) uint32 {
	var size uint32
	h.cs.Do(func() {
		first := h.firstByteOfChunkUnlocked(a)
		if h.mapNibbleUnlocked(first) == 0 {
			size = 0
			return
		}
		size = h.runLengthUnlocked(first)
	})
	return size
}

// chunkSizeUnrestrictedUnlocked returns the run length regardless of
// ownership, for internal use by strategies and realloc.
func (h *Heap) chunkSizeUnrestrictedUnlocked(a Addr) uint32 {
	first := h.firstByteOfChunkUnlocked(a)
	return h.runLengthUnlocked(first)
}

func (h *Heap) runLengthUnlocked(first Addr) uint32 {
	n := h.mapNibbleUnlocked(first)
	size := uint32(1)
	cur := first + 1
	end := h.useEnd()
	if n == 0 {
		for cur < end && h.mapNibbleUnlocked(cur) == 0 {
			size++
			cur++
		}
	} else {
		for cur < end && h.mapNibbleUnlocked(cur) == continuationNibble {
			size++
			cur++
		}
	}
	return size
}

type run struct {
	start  Addr
	length uint32
}

// freeRunsUnlocked returns every maximal free run in ascending address
// order, in a single linear pass.
func (h *Heap) freeRunsUnlocked() []run {
	var runs []run
	addr := h.useStart
	end := h.useEnd()
	for addr < end {
		n := h.mapNibbleUnlocked(addr)
		switch {
		case n == 0:
			start := addr
			length := uint32(0)
			for addr < end && h.mapNibbleUnlocked(addr) == 0 {
				length++
				addr++
			}
			runs = append(runs, run{start, length})
		case n == continuationNibble:
			// A continuation nibble must not begin a chunk (invariant);
			// defensively treat it as a one-byte skip rather than loop.
			addr++
		default:
			addr++
			for addr < end && h.mapNibbleUnlocked(addr) == continuationNibble {
				addr++
			}
		}
	}
	return runs
}
