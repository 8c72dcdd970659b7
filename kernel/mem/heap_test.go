package mem

import (
	"testing"

	"github.com/mnghiap/spos/kernel/critical"
)

func newTestHeap(useSize uint32, strategy Strategy) *Heap {
	driver := NewInternalDriver(0x200, (useSize+1)/2+useSize)
	return New("test", driver, useSize, strategy, critical.New(), nil)
}

func TestMallocFreeRoundTripRestoresMap(t *testing.T) {
	h := newTestHeap(600, FirstFit)

	a := h.Malloc(1, 10)
	if a != h.UseStart() {
		t.Fatalf("first malloc on an empty heap returned %#x, want %#x", a, h.UseStart())
	}
	if got := h.GetOwner(a); got != 1 {
		t.Errorf("owner nibble at %#x = %d, want 1", a, got)
	}
	for i := Addr(1); i < 9; i++ {
		if got := h.GetMapEntry(a + i); got != continuationNibble {
			t.Errorf("continuation nibble at %#x = %x, want %x", a+i, got, continuationNibble)
		}
	}
	if got := h.GetMapEntry(a + 10); got != 0 {
		t.Errorf("nibble past the chunk = %x, want 0", got)
	}

	h.Free(1, a+5)
	for i := Addr(0); i < 10; i++ {
		if got := h.GetMapEntry(a + i); got != 0 {
			t.Errorf("nibble at %#x after free = %x, want 0", a+i, got)
		}
	}
}

func TestFirstByteOfChunkAndChunkSizeRoundTrip(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	a := h.Malloc(1, 10)

	for i := Addr(0); i < 10; i++ {
		if got := h.FirstByteOfChunk(a + i); got != a {
			t.Errorf("FirstByteOfChunk(%#x) = %#x, want %#x", a+i, got, a)
		}
	}
	if got := h.ChunkSize(a); got != 10 {
		t.Errorf("ChunkSize(%#x) = %d, want 10", a, got)
	}
	if got := h.ChunkSize(a + 5); got != 10 {
		t.Errorf("ChunkSize of an interior byte (restricted query) = %d, want 10 (the size of the chunk containing it)", got)
	}
}

func TestAllocationStrategyRoundTrip(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	h.SetAllocationStrategy(BestFit)
	if got := h.GetAllocationStrategy(); got != BestFit {
		t.Errorf("GetAllocationStrategy() = %v, want %v", got, BestFit)
	}
}

func TestBoundaryBehaviours(t *testing.T) {
	h := newTestHeap(600, FirstFit)

	a := h.Malloc(1, 600)
	if a != h.UseStart() {
		t.Fatalf("malloc(use_size) on an empty heap = %#x, want %#x", a, h.UseStart())
	}
	if got := h.Malloc(1, 1); got != 0 {
		t.Errorf("malloc(1) on a full heap = %#x, want 0", got)
	}

	h2 := newTestHeap(600, FirstFit)
	if got := h2.Malloc(1, 601); got != 0 {
		t.Errorf("over-allocation by one byte = %#x, want 0", got)
	}
}

func TestFirstFitVersusBestFit(t *testing.T) {
	scenario := func(strategy Strategy) (*Heap, Addr, Addr, Addr) {
		h := newTestHeap(600, FirstFit)
		a := h.Malloc(1, 15)
		b := h.Malloc(1, 5)
		c := h.Malloc(1, 10)
		// Pin the bytes right after c so c's hole stays 10 bytes instead of
		// merging with the free tail of the heap.
		h.Malloc(1, 5)
		h.Free(1, a)
		h.Free(1, c)
		h.SetAllocationStrategy(strategy)
		return h, a, b, c
	}

	h, a, _, _ := scenario(FirstFit)
	if got := h.Malloc(1, 5); got != a {
		t.Errorf("FirstFit malloc(5) = %#x, want a's original address %#x", got, a)
	}

	h2, a2, _, c2 := scenario(BestFit)
	if got := h2.Malloc(1, 5); got != c2 {
		t.Errorf("BestFit malloc(5) = %#x, want c's original address %#x (a's hole is %#x)", got, c2, a2)
	}
}

func TestNextFitWrapsAround(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	a := h.Malloc(1, 15)
	_ = h.Malloc(1, 5)
	c := h.Malloc(1, 10)
	h.Free(1, a)
	h.Free(1, c)

	h.SetAllocationStrategy(NextFit)
	h.nextFitCursor = h.useEnd()

	got := h.Malloc(1, 5)
	if got != a {
		t.Errorf("NextFit malloc(5) after wrapping = %#x, want a's original address %#x", got, a)
	}
	if h.nextFitCursor == h.useEnd() {
		t.Errorf("next_fit_cursor was not advanced past the allocated run")
	}
}

func TestReallocGrowsIntoRightNeighbour(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	a := h.Malloc(1, 4)
	b := h.Malloc(1, 4)
	h.Free(1, b)

	got := h.Realloc(1, a, 8)
	if got != a {
		t.Fatalf("Realloc grown in place returned %#x, want %#x", got, a)
	}
	if size := h.ChunkSize(a); size != 8 {
		t.Errorf("ChunkSize(a) after growing = %d, want 8", size)
	}
	if first := h.FirstByteOfChunk(b); first != a {
		t.Errorf("chunk containing b's old address starts at %#x, want %#x (no chunk begins there anymore)", first, a)
	}
}

func TestReallocShrinkKeepsOwnerNibble(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	a := h.Malloc(1, 10)

	got := h.Realloc(1, a, 4)
	if got != a {
		t.Fatalf("Realloc shrink returned %#x, want %#x", got, a)
	}
	if owner := h.GetOwner(a); owner != 1 {
		t.Errorf("owner nibble after shrink = %d, want 1", owner)
	}
	if size := h.ChunkSize(a); size != 4 {
		t.Errorf("ChunkSize(a) after shrink = %d, want 4", size)
	}
	if got := h.GetMapEntry(a + 4); got != 0 {
		t.Errorf("nibble just past the shrunk chunk = %x, want 0", got)
	}
}

func TestProcessKillReleasesMemory(t *testing.T) {
	h := newTestHeap(600, FirstFit)
	x := h.Malloc(2, 50)
	y := h.Malloc(2, 30)

	h.FreeProcessMemory(2)

	for i := Addr(0); i < 50; i++ {
		if got := h.GetMapEntry(x + i); got != 0 {
			t.Errorf("nibble at %#x after kill = %x, want 0", x+i, got)
		}
	}
	for i := Addr(0); i < 30; i++ {
		if got := h.GetMapEntry(y + i); got != 0 {
			t.Errorf("nibble at %#x after kill = %x, want 0", y+i, got)
		}
	}
	if start, end := h.AllocFrame(2); start != 0 || end != 0 {
		t.Errorf("AllocFrame(2) after kill = (%#x, %#x), want (0, 0)", start, end)
	}
}

func TestFreeOwnershipViolationLeavesMapUnchanged(t *testing.T) {
	var violations int
	driver := NewInternalDriver(0x200, (600+1)/2+600)
	h := New("test", driver, 600, FirstFit, critical.New(), func(string, map[string]any) { violations++ })

	a := h.Malloc(1, 10)
	h.Free(2, a)

	if violations != 1 {
		t.Fatalf("expected one fatal call for the ownership violation, got %d", violations)
	}
	if owner := h.GetOwner(a); owner != 1 {
		t.Errorf("owner after a rejected free by the wrong pid = %d, want 1 (unchanged)", owner)
	}
}
