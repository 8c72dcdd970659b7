package kernel

import "testing"

// readySlots builds a process table with slot 0 (idle, always present)
// plus one Ready slot per entry in priorities; a priority of 0 marks the
// slot Blocked instead of Ready, for tests that need a gap.
func readySlots(priorities []uint8) *ProcessTable {
	pt := NewProgramTable(len(priorities) + 2)
	pt.Register("spin", func() Program { return &spinProgram{} }, false)
	procs := NewProcessTable(len(priorities)+2, 32, pt)
	id := pt.LookupID("spin")
	procs.Exec(id, 1) // occupies slot 0, the index every policy treats as idle
	for _, p := range priorities {
		pid := procs.Exec(id, p)
		if p == 0 {
			procs.slotAt(pid).State = Blocked
		}
	}
	return procs
}

func TestEvenSkipsIdleAndWrapsCircularly(t *testing.T) {
	procs := readySlots([]uint8{1, 1, 1})
	e := Even{}

	n1 := e.Next(procs, 1)
	if n1 != 2 {
		t.Errorf("Next(1) = %d, want 2", n1)
	}
	n2 := e.Next(procs, 3)
	if n2 != 1 {
		t.Errorf("Next(3) should wrap past idle to 1, got %d", n2)
	}
}

func TestEvenReturnsIdleWhenNothingElseIsReady(t *testing.T) {
	procs := readySlots(nil)
	e := Even{}
	if got := e.Next(procs, 0); got != 0 {
		t.Errorf("Next with no other Ready slot = %d, want 0 (idle)", got)
	}
}

func TestRandomOnlyEverPicksReadySlots(t *testing.T) {
	procs := readySlots([]uint8{1, 1, 1, 1})
	r := NewRandom(1)
	for i := 0; i < 50; i++ {
		next := r.Next(procs, 1)
		if procs.State(next) != Ready {
			t.Fatalf("Random picked slot %d in state %v, want Ready", next, procs.State(next))
		}
	}
}

func TestRoundRobinHoldsCurrentForItsTimeSlice(t *testing.T) {
	procs := readySlots([]uint8{3, 1})
	rr := &RoundRobin{}
	rr.Reset(procs, 1)

	if got := rr.Next(procs, 1); got != 1 {
		t.Errorf("first Next within the time slice = %d, want 1 (stay)", got)
	}
	if got := rr.Next(procs, 1); got != 1 {
		t.Errorf("second Next within the time slice = %d, want 1 (stay)", got)
	}
	if got := rr.Next(procs, 1); got != 2 {
		t.Errorf("Next after the time slice expires = %d, want 2", got)
	}
}

func TestInactiveAgingPicksTheMostStarvedSlot(t *testing.T) {
	procs := readySlots([]uint8{1, 5})
	ia := InactiveAging{}
	ia.Reset(procs, 0)

	// Slot 2 has the higher priority, so it ages faster and should be
	// picked first even though it comes after slot 1.
	got := ia.Next(procs, 0)
	if got != 2 {
		t.Errorf("Next = %d, want 2 (ages fastest at priority 5)", got)
	}
}

func TestInactiveAgingBreaksTiesByPriorityThenPID(t *testing.T) {
	procs := readySlots([]uint8{2, 2})
	ia := InactiveAging{}
	ia.Reset(procs, 0)

	got := ia.Next(procs, 0)
	if got != 1 {
		t.Errorf("tie between equal-priority slots broken as %d, want 1 (lower pid)", got)
	}
}

func TestRunToCompletionStaysOnCurrentUntilItBlocks(t *testing.T) {
	procs := readySlots([]uint8{1})
	rtc := RunToCompletion{}

	if got := rtc.Next(procs, 1); got != 1 {
		t.Errorf("Next while still Ready = %d, want 1", got)
	}
	procs.slotAt(1).State = Blocked
	if got := rtc.Next(procs, 1); got != 0 {
		t.Errorf("Next once current is no longer Ready = %d, want 0 (idle, nothing else Ready)", got)
	}
}
