package kernel

import (
	"math/bits"
	"math/rand"
)

// SchedulingStrategy is a pure function from (process table, current
// pid) to the next pid to run, plus a reset hook invoked when the
// kernel switches strategies or a new process is exec'd.
type SchedulingStrategy interface {
	Next(tbl *ProcessTable, current uint8) uint8
	Reset(tbl *ProcessTable, current uint8)
}

// readyMask packs "slot i is Ready and i != 0" into bit i of a uint32,
// the same occupancy-bitmap idiom the out-of-order scheduler uses for
// its reservation-station tracking: a single word that every policy can
// scan with math/bits instead of re-walking the slot array by hand.
func readyMask(tbl *ProcessTable) uint32 {
	var mask uint32
	for i := 1; i < tbl.Len() && i < 32; i++ {
		if tbl.slots[i].State == Ready {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// nextReady finds the first Ready non-idle slot strictly after current
// in circular order, using the scheduler's ready bitmap and a
// trailing-zeros priority scan: the bits above current are checked
// first ("tail"), and if none are set the scan wraps to the bits at or
// below current ("head") — the same tail-then-head shape the next-fit
// allocator uses to cover the whole window in one pass.
func nextReady(tbl *ProcessTable, current uint8) uint8 {
	mask := readyMask(tbl)
	if mask == 0 {
		return 0
	}
	n := uint(tbl.Len())
	start := uint(current) + 1
	if start < n {
		if tail := mask >> start; tail != 0 {
			return uint8(start + uint(bits.TrailingZeros32(tail)))
		}
	}
	return uint8(bits.TrailingZeros32(mask))
}

// Even returns the next Ready slot after current in circular order,
// skipping the idle slot. Deterministic and memoryless.
type Even struct{}

func (Even) Reset(*ProcessTable, uint8) {}
func (Even) Next(tbl *ProcessTable, current uint8) uint8 {
	return nextReady(tbl, current)
}

// Random draws uniformly among the Ready non-idle slots by counting
// them, drawing an index, and walking the Even sequence that many
// steps.
type Random struct {
	src *rand.Rand
}

// NewRandom builds a Random policy seeded from seed; spos-sim seeds it
// from the wall clock, tests seed it explicitly for determinism.
func NewRandom(seed int64) *Random {
	return &Random{src: rand.New(rand.NewSource(seed))}
}

func (p *Random) Reset(*ProcessTable, uint8) {}

func (p *Random) Next(tbl *ProcessTable, current uint8) uint8 {
	mask := readyMask(tbl)
	if mask == 0 {
		return 0
	}
	count := bits.OnesCount32(mask)
	draw := p.src.Intn(count)
	cur := current
	for i := 0; i <= draw; i++ {
		cur = nextReady(tbl, cur)
	}
	return cur
}

// RoundRobin carries one shared time-slice counter across calls.
type RoundRobin struct {
	timeSlice int
}

func (p *RoundRobin) Reset(tbl *ProcessTable, current uint8) {
	p.timeSlice = int(tbl.Priority(current))
}

func (p *RoundRobin) Next(tbl *ProcessTable, current uint8) uint8 {
	if tbl.State(current) == Ready && p.timeSlice > 0 {
		p.timeSlice--
		if p.timeSlice > 0 {
			return current
		}
	}
	next := nextReady(tbl, current)
	if next == 0 {
		return 0
	}
	p.timeSlice = int(tbl.Priority(next))
	return next
}

// InactiveAging ages every Ready slot other than current by its
// priority on each call, then hands the CPU to whichever Ready slot has
// aged the most, ties broken by higher priority and then by lower pid.
type InactiveAging struct{}

func (InactiveAging) Reset(tbl *ProcessTable, current uint8) {
	tbl.ForEachSlot(func(i int, s *ProcessSlot) { s.Age = 0 })
}

func (InactiveAging) Next(tbl *ProcessTable, current uint8) uint8 {
	mask := readyMask(tbl)
	if mask == 0 {
		return 0
	}
	tbl.ForEachSlot(func(i int, s *ProcessSlot) {
		if i == int(current) || s.State != Ready {
			return
		}
		s.Age += int(s.Priority)
	})

	best := uint8(0)
	bestAge := -1
	var bestPriority uint8
	for i := uint(0); i < 32 && i < uint(tbl.Len()); i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		s := tbl.slotAt(int(i))
		if s.Age > bestAge || (s.Age == bestAge && s.Priority > bestPriority) {
			best = uint8(i)
			bestAge = s.Age
			bestPriority = s.Priority
		}
	}
	tbl.slotAt(int(best)).Age = int(tbl.slotAt(int(best)).Priority)
	return best
}

// RunToCompletion keeps handing the CPU back to current as long as it
// is still Ready, falling back to the Even rule otherwise.
type RunToCompletion struct{}

func (RunToCompletion) Reset(*ProcessTable, uint8) {}

func (RunToCompletion) Next(tbl *ProcessTable, current uint8) uint8 {
	if tbl.State(current) == Ready {
		return current
	}
	return nextReady(tbl, current)
}
