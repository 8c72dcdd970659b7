package kernel

import (
	"strings"
	"testing"
	"time"

	"github.com/mnghiap/spos/internal/buttons"
	"github.com/mnghiap/spos/internal/config"
	"github.com/mnghiap/spos/internal/display"
)

func testConfig() config.Config {
	return config.Config{
		MaxProcesses:  4,
		MaxPrograms:   4,
		StackSize:     32,
		TickPeriod:    time.Millisecond,
		DefaultAlloc:  config.FirstFit,
		AckButtonMask: 0b1001,
	}
}

// lateEscapeButtons reports no press for its first armAfter reads (so a
// Tick's own poll never opens the task-manager overlay while the test is
// still setting up its scenario), then reports the escape chord on every
// read after, so a Fatal call's acknowledgment wait resolves immediately
// instead of hanging the test.
type lateEscapeButtons struct {
	calls    int
	armAfter int
}

func (s *lateEscapeButtons) Read() buttons.Mask {
	s.calls++
	if s.calls <= s.armAfter {
		return 0
	}
	return escapeChord
}

func newTestKernel(t *testing.T) (*Kernel, *display.Recorder) {
	t.Helper()
	progs := NewProgramTable(4)
	progs.Register("spin", func() Program { return &spinProgram{} }, false)
	rec := &display.Recorder{}
	k := New(testConfig(), progs, rec, buttons.Static{Mask: 0}, "even", 1)
	return k, rec
}

func TestBootAutostartsIdleAtSlotZero(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Boot()

	if got := k.Procs().State(0); got != Running {
		t.Fatalf("slot 0 state after Boot = %v, want Running", got)
	}
	if got := k.Procs().CurrentProc(); got != 0 {
		t.Fatalf("CurrentProc after Boot = %d, want 0", got)
	}
}

func TestKernelExecAndKillLifecycle(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Boot()

	id := k.Programs().LookupID("spin")
	pid := k.Exec(id, 10)
	if pid == InvalidPID {
		t.Fatalf("Exec returned InvalidPID")
	}
	if got := k.Procs().State(uint8(pid)); got != Ready {
		t.Errorf("state after Exec = %v, want Ready", got)
	}

	if !k.Kill(uint8(pid)) {
		t.Fatalf("Kill returned false for a live process")
	}
	if got := k.Procs().State(uint8(pid)); got != Unused {
		t.Errorf("state after Kill = %v, want Unused", got)
	}
}

func TestKernelKillRefusesIdle(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Boot()
	if k.Kill(0) {
		t.Fatalf("Kill(0) succeeded, idle must never be killed")
	}
}

func TestTickRunsDispatcherAndKillsOnExit(t *testing.T) {
	progs := NewProgramTable(4)
	progs.Register("count", func() Program { return &countProgram{remaining: 0} }, false)
	rec := &display.Recorder{}
	k := New(testConfig(), progs, rec, buttons.Static{Mask: 0}, "even", 1)
	k.Boot()

	id := progs.LookupID("count")
	pid := k.Exec(id, 10)

	// Drive ticks until the scheduler hands pid the CPU and runs its one
	// quantum, which immediately exits.
	for i := 0; i < 4; i++ {
		k.Tick()
	}

	if got := k.Procs().State(uint8(pid)); got != Unused {
		t.Fatalf("state after its program exited = %v, want Unused", got)
	}
}

func TestTickDetectsStackCorruptionBetweenNeighbouringProcesses(t *testing.T) {
	progs := NewProgramTable(4)
	progs.Register("spin", func() Program { return &spinProgram{} }, false)
	rec := &display.Recorder{}
	// Two Reads happen before Fatal's wait (the first Tick's step-6 poll
	// and the corrupted Tick's own step-6 poll); arm the chord starting on
	// the third so Fatal's acknowledgment wait resolves on its first check
	// instead of either Tick's poll ever seeing the chord itself.
	k := New(testConfig(), progs, rec, &lateEscapeButtons{armAfter: 2}, "even", 1)
	k.Boot()

	id := k.Programs().LookupID("spin")
	_ = k.Exec(id, 1)
	pid2 := k.Exec(id, 1)

	// Give pid1 one quantum so the scheduler has somewhere else to go
	// before it reaches pid2.
	k.Tick()

	start, _ := k.Procs().StackBounds(uint8(pid2))
	k.Procs().Arena()[start] ^= 0xFF

	k.Tick()

	if !strings.Contains(rec.Lines[0], "stack inconsistency") {
		t.Fatalf("expected a stack-inconsistency fatal message, got %q", rec.Lines[0])
	}
	if got := k.Procs().CurrentProc(); got == uint8(pid2) {
		t.Fatalf("corrupted process must not have been promoted to Running")
	}
}
