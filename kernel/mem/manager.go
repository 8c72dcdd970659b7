package mem

import "fmt"

// Malloc picks a free run of size use bytes via the heap's current
// strategy, stamps the owner nibble and size-1 continuation nibbles, and
// widens owner's allocation frame. Returns 0, silently, when no run
// fits.
func (h *Heap) Malloc(owner uint8, size uint32) Addr {
	if owner == 0 || owner > maxOwner {
		h.violate("malloc: invalid owner", map[string]any{"heap": h.Name, "owner": owner})
		return 0
	}
	var addr Addr
	h.cs.Do(func() {
		if size == 0 {
			addr = 0
			return
		}
		a := h.selectUnlocked(size)
		if a == 0 {
			addr = 0
			return
		}
		h.setMapNibbleUnlocked(a, owner)
		for i := uint32(1); i < size; i++ {
			h.setMapNibbleUnlocked(a+Addr(i), continuationNibble)
		}
		h.widenFrameUnlocked(owner, a, a+Addr(size)-1)
		addr = a
	})
	return addr
}

// Free delegates to FreeOwnerRestricted with owner as the current
// process.
func (h *Heap) Free(owner uint8, addr Addr) {
	h.FreeOwnerRestricted(addr, owner)
}

// FreeOwnerRestricted zeros every nibble of the chunk containing addr,
// provided owner actually owns it; otherwise it is a fatal ownership
// violation and the heap is left unchanged.
func (h *Heap) FreeOwnerRestricted(addr Addr, owner uint8) {
	h.cs.Do(func() {
		if !h.inUseWindow(addr) {
			h.violate("free: address out of range", map[string]any{"heap": h.Name, "addr": addr})
			return
		}
		first := h.firstByteOfChunkUnlocked(addr)
		actual := h.mapNibbleUnlocked(first)
		if actual == 0 {
			h.violate("free: address is not allocated", map[string]any{"heap": h.Name, "addr": addr})
			return
		}
		if actual != owner {
			h.violate("free: ownership violation", map[string]any{"heap": h.Name, "addr": addr, "owner": owner, "actual": actual})
			return
		}
		size := h.runLengthUnlocked(first)
		for i := uint32(0); i < size; i++ {
			h.setMapNibbleUnlocked(first+Addr(i), 0)
		}
		h.releaseFromFrameUnlocked(owner, first, first+Addr(size)-1)
	})
}

// FreeProcessMemory releases every chunk in [frameStart[pid],
// frameEnd[pid]] owned by pid, then resets the frame to (0,0) — the
// scheduler calls this on every heap at process-termination time.
func (h *Heap) FreeProcessMemory(pid uint8) {
	if pid == 0 || pid > maxOwner {
		return
	}
	h.cs.Do(func() {
		start, end := h.frameStart[pid], h.frameEnd[pid]
		if start == 0 && end == 0 {
			return
		}
		addr := start
		for addr <= end {
			n := h.mapNibbleUnlocked(addr)
			if n == pid {
				size := h.runLengthUnlocked(addr)
				for i := uint32(0); i < size; i++ {
					h.setMapNibbleUnlocked(addr+Addr(i), 0)
				}
				addr += Addr(size)
				continue
			}
			addr++
		}
		h.frameStart[pid] = 0
		h.frameEnd[pid] = 0
	})
}

// Realloc implements the growth-preference chain: right
// neighbour, then left neighbour, then both, then a fresh chunk.
func (h *Heap) Realloc(owner uint8, addr Addr, newSize uint32) Addr {
	var result Addr
	h.cs.Do(func() {
		if !h.inUseWindow(addr) {
			h.violate("realloc: address out of range", map[string]any{"heap": h.Name, "addr": addr})
			return
		}
		first := h.firstByteOfChunkUnlocked(addr)
		actual := h.mapNibbleUnlocked(first)
		if actual == 0 || actual != owner {
			h.violate("realloc: ownership violation", map[string]any{"heap": h.Name, "addr": addr, "owner": owner, "actual": actual})
			return
		}
		oldSize := h.runLengthUnlocked(first)
		oldEnd := first + Addr(oldSize) - 1

		switch {
		case newSize == oldSize:
			result = first

		case newSize < oldSize:
			for i := newSize; i < oldSize; i++ {
				h.setMapNibbleUnlocked(first+Addr(i), 0)
			}
			h.releaseFromFrameUnlocked(owner, oldEnd-Addr(oldSize-newSize)+1, oldEnd)
			result = first

		default:
			result = h.growUnlocked(owner, first, oldSize, newSize)
		}
	})
	return result
}

func (h *Heap) growUnlocked(owner uint8, first Addr, oldSize, newSize uint32) Addr {
	need := newSize - oldSize
	oldEnd := first + Addr(oldSize) - 1

	rightLen := uint32(0)
	if oldEnd+1 < h.useEnd() && h.mapNibbleUnlocked(oldEnd+1) == 0 {
		rightLen = h.chunkSizeUnrestrictedUnlocked(oldEnd + 1)
	}
	leftLen := uint32(0)
	if first > h.useStart && h.mapNibbleUnlocked(first-1) == 0 {
		leftStart := h.firstByteOfChunkUnlocked(first - 1)
		leftLen = uint32(first - leftStart)
	}

	switch {
	case rightLen >= need:
		for i := uint32(0); i < need; i++ {
			h.setMapNibbleUnlocked(oldEnd+1+Addr(i), continuationNibble)
		}
		h.widenFrameUnlocked(owner, first, oldEnd+Addr(need))
		return first

	case leftLen >= need:
		newStart := first - Addr(need)
		h.moveChunkUnlocked(first, newStart, oldSize)
		for i := uint32(0); i < newSize; i++ {
			if i == 0 {
				h.setMapNibbleUnlocked(newStart, owner)
			} else {
				h.setMapNibbleUnlocked(newStart+Addr(i), continuationNibble)
			}
		}
		h.retargetFrameUnlocked(owner, first, oldEnd, newStart, oldEnd)
		return newStart

	case leftLen+rightLen >= need:
		remaining := need - rightLen
		newStart := first - Addr(remaining)
		newEnd := oldEnd + Addr(rightLen)
		h.moveChunkUnlocked(first, newStart, oldSize)
		for a := newStart; a <= newEnd; a++ {
			if a == newStart {
				h.setMapNibbleUnlocked(a, owner)
			} else {
				h.setMapNibbleUnlocked(a, continuationNibble)
			}
		}
		h.retargetFrameUnlocked(owner, first, oldEnd, newStart, newEnd)
		return newStart

	default:
		fresh := h.selectUnlocked(newSize)
		if fresh == 0 {
			return 0
		}
		h.setMapNibbleUnlocked(fresh, owner)
		for i := uint32(1); i < newSize; i++ {
			h.setMapNibbleUnlocked(fresh+Addr(i), continuationNibble)
		}
		for i := uint32(0); i < oldSize; i++ {
			h.driver.Write(fresh+Addr(i), h.driver.Read(first+Addr(i)))
		}
		for i := uint32(0); i < oldSize; i++ {
			h.setMapNibbleUnlocked(first+Addr(i), 0)
		}
		h.releaseFromFrameUnlocked(owner, first, oldEnd)
		h.widenFrameUnlocked(owner, fresh, fresh+Addr(newSize)-1)
		return fresh
	}
}

// moveChunkUnlocked copies size use bytes from src to dst (dst < src,
// so a forward byte-by-byte copy never overwrites unread source bytes).
// It does not touch the map: the caller overwrites [dst, dst+newSize-1]
// with the correct owner/continuation pattern immediately afterward.
func (h *Heap) moveChunkUnlocked(src, dst Addr, size uint32) {
	for i := uint32(0); i < size; i++ {
		h.driver.Write(dst+Addr(i), h.driver.Read(src+Addr(i)))
	}
}

// Memcpy copies n bytes from one heap to another (or the same heap)
// through their drivers, provided owner owns the chunk at both
// endpoints — copying into or out of memory you don't own is an
// ownership violation.
func Memcpy(fromHeap *Heap, from Addr, toHeap *Heap, to Addr, n uint32, owner uint8) {
	fromHeap.cs.Do(func() {
		runMemcpy(fromHeap, from, toHeap, to, n, owner)
	})
}

func runMemcpy(fromHeap *Heap, from Addr, toHeap *Heap, to Addr, n uint32, owner uint8) {
	if fromHeap != toHeap {
		toHeap.cs.Enter()
		defer toHeap.cs.Leave()
	}
	fromOwner := fromHeap.mapNibbleUnlocked(fromHeap.firstByteOfChunkUnlocked(from))
	toOwner := toHeap.mapNibbleUnlocked(toHeap.firstByteOfChunkUnlocked(to))
	if fromOwner != owner || toOwner != owner {
		fromHeap.violate("memcpy: ownership violation", map[string]any{
			"from_heap": fromHeap.Name, "to_heap": toHeap.Name, "owner": owner,
		})
		return
	}
	for i := uint32(0); i < n; i++ {
		toHeap.driver.Write(to+Addr(i), fromHeap.driver.Read(from+Addr(i)))
	}
}

func (h *Heap) widenFrameUnlocked(owner uint8, start, end Addr) {
	if h.frameStart[owner] == 0 && h.frameEnd[owner] == 0 {
		h.frameStart[owner] = start
		h.frameEnd[owner] = end
		return
	}
	if start < h.frameStart[owner] {
		h.frameStart[owner] = start
	}
	if end > h.frameEnd[owner] {
		h.frameEnd[owner] = end
	}
}

// retargetFrameUnlocked replaces a chunk's old span with its new span in
// owner's frame bookkeeping — used when a realloc move changes which
// addresses a chunk occupies without changing the set of other chunks
// owner holds.
func (h *Heap) retargetFrameUnlocked(owner uint8, oldStart, oldEnd, newStart, newEnd Addr) {
	h.releaseFromFrameUnlocked(owner, oldStart, oldEnd)
	h.widenFrameUnlocked(owner, newStart, newEnd)
}

// releaseFromFrameUnlocked is called after nibbles in [relStart,relEnd]
// stop being owner's. If that range touched the current frame boundary,
// re-tighten it by rescanning the use window for owner's remaining
// chunks — rescanning is simpler and cheap enough than delta bookkeeping.
func (h *Heap) releaseFromFrameUnlocked(owner uint8, relStart, relEnd Addr) {
	if h.frameStart[owner] == 0 && h.frameEnd[owner] == 0 {
		return
	}
	touchesStart := relStart <= h.frameStart[owner] && h.frameStart[owner] <= relEnd
	touchesEnd := relStart <= h.frameEnd[owner] && h.frameEnd[owner] <= relEnd
	if !touchesStart && !touchesEnd {
		return
	}

	var newStart, newEnd Addr
	found := false
	addr := h.useStart
	end := h.useEnd()
	for addr < end {
		n := h.mapNibbleUnlocked(addr)
		if n == owner {
			size := h.runLengthUnlocked(addr)
			chunkEnd := addr + Addr(size) - 1
			if !found {
				newStart, newEnd = addr, chunkEnd
				found = true
			} else {
				if addr < newStart {
					newStart = addr
				}
				if chunkEnd > newEnd {
					newEnd = chunkEnd
				}
			}
			addr += Addr(size)
			continue
		}
		if n == continuationNibble {
			addr++
			continue
		}
		addr++
	}
	if !found {
		h.frameStart[owner] = 0
		h.frameEnd[owner] = 0
		return
	}
	h.frameStart[owner] = newStart
	h.frameEnd[owner] = newEnd
}

// AllocFrame returns owner's current allocation-frame bounds on this
// heap, (0,0) meaning "owns nothing here".
func (h *Heap) AllocFrame(owner uint8) (start, end Addr) {
	h.cs.Do(func() {
		start, end = h.frameStart[owner], h.frameEnd[owner]
	})
	return start, end
}

// DebugDumpMap renders every map nibble as a hex digit, for the
// spos-sim heaps subcommand and for tests asserting map shape.
func (h *Heap) DebugDumpMap() string {
	var out []byte
	h.cs.Do(func() {
		for a := h.useStart; a < h.useEnd(); a++ {
			out = append(out, fmt.Sprintf("%x", h.mapNibbleUnlocked(a))...)
		}
	})
	return string(out)
}
