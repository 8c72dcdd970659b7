package kernel

// State is a process slot's lifecycle state.
type State int

const (
	Unused State = iota
	Ready
	Running
	Blocked
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

const InvalidPID = -1

// ProcessSlot is one entry in the process table. Slot 0 is always the
// idle process and is never returned by kill or marked Unused by it.
type ProcessSlot struct {
	State     State
	ProgramID int
	Priority  uint8

	stack         []byte
	sp            int
	stackChecksum byte

	// age is scheduler-private bookkeeping consumed only by the
	// inactive-aging policy; every other policy ignores it.
	Age int

	instance Program
}

// ProcessTable is the fixed-size array of process slots. Every slot's
// stack is carved out of one shared arena, the way a real target carves
// fixed-size stack regions out of one RAM pool — which is what makes
// the stack-checksum integrity check meaningful: a process that
// overruns its own region corrupts bytes that belong to its neighbour.
type ProcessTable struct {
	slots     []ProcessSlot
	arena     []byte
	stackSize uint32
	current   int
	programs  *ProgramTable
}

// NewProcessTable allocates max slots, each with a stackSize-byte
// region inside one shared arena.
func NewProcessTable(max int, stackSize uint32, programs *ProgramTable) *ProcessTable {
	return &ProcessTable{
		slots:     make([]ProcessSlot, max),
		arena:     make([]byte, uint32(max)*stackSize),
		stackSize: stackSize,
		current:   0,
		programs:  programs,
	}
}

// Arena exposes the shared stack backing store, for tests that simulate
// a process overrunning its own stack region into a neighbour's.
func (t *ProcessTable) Arena() []byte { return t.arena }

// StackBounds returns pid's [start, end) byte range within Arena.
func (t *ProcessTable) StackBounds(pid uint8) (start, end int) {
	start = int(pid) * int(t.stackSize)
	end = start + int(t.stackSize)
	return start, end
}

// Len reports the number of slots.
func (t *ProcessTable) Len() int { return len(t.slots) }

func (t *ProcessTable) slotAt(i int) *ProcessSlot { return &t.slots[i] }

// State reports the current state of pid, or Unused if pid is out of
// range.
func (t *ProcessTable) State(pid uint8) State {
	if int(pid) >= len(t.slots) {
		return Unused
	}
	return t.slots[pid].State
}

// Priority reports pid's scheduling priority.
func (t *ProcessTable) Priority(pid uint8) uint8 {
	if int(pid) >= len(t.slots) {
		return 0
	}
	return t.slots[pid].Priority
}

// CurrentProc is the id of the slot currently Running.
func (t *ProcessTable) CurrentProc() uint8 { return uint8(t.current) }

// setCurrent records which slot the scheduler ISR has promoted to
// Running; only scheduler.go calls this.
func (t *ProcessTable) setCurrent(pid uint8) { t.current = int(pid) }

// NumberOfActiveProcs counts slots not in state Unused.
func (t *ProcessTable) NumberOfActiveProcs() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].State != Unused {
			n++
		}
	}
	return n
}

// NumberOfRegisteredPrograms delegates to the program table.
func (t *ProcessTable) NumberOfRegisteredPrograms() int {
	return t.programs.Len()
}

// ForEachSlot visits every slot in index order; used by policies that
// must touch more than one slot (inactive-aging).
func (t *ProcessTable) ForEachSlot(fn func(i int, s *ProcessSlot)) {
	for i := range t.slots {
		fn(i, &t.slots[i])
	}
}

// Exec finds the first Unused slot, builds its initial stack so that a
// restore+return lands in the dispatcher, and marks it Ready. Returns
// InvalidPID if no slot is free or programID does not name a registered
// program.
func (t *ProcessTable) Exec(programID int, priority uint8) int {
	factory := t.programs.Lookup(programID)
	if factory == nil {
		return InvalidPID
	}
	for i := range t.slots {
		if t.slots[i].State != Unused {
			continue
		}
		start, end := t.StackBounds(uint8(i))
		stack := t.arena[start:end]
		for j := range stack {
			stack[j] = 0
		}
		sp := initializeStack(stack)
		t.slots[i] = ProcessSlot{
			State:         Ready,
			ProgramID:     programID,
			Priority:      priority,
			stack:         stack,
			sp:            sp,
			stackChecksum: stackChecksum(stack, sp),
			Age:           0,
			instance:      factory(),
		}
		return i
	}
	return InvalidPID
}

// Kill marks pid Unused. It refuses pid 0 (idle) and any slot already
// Unused. The caller is responsible for invoking mem.Registry's
// FreeProcessMemory.
func (t *ProcessTable) Kill(pid uint8) bool {
	if pid == 0 || int(pid) >= len(t.slots) {
		return false
	}
	s := &t.slots[pid]
	if s.State == Unused {
		return false
	}
	*s = ProcessSlot{}
	return true
}

// RunDispatcher calls the current process's program instance for one
// quantum; on Exit it returns true so the caller (the scheduler) kills
// the process, mirroring the reference dispatcher trampoline that calls
// kill(current_proc) when the user function returns.
func (t *ProcessTable) RunDispatcher(pid uint8) (exited bool) {
	s := &t.slots[pid]
	if s.instance == nil {
		return true
	}
	return s.instance.Run() == Exit
}
