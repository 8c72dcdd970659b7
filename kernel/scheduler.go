package kernel

import "github.com/mnghiap/spos/internal/display"

// Tick is the timer-triggered scheduler ISR. It runs with the
// critical-section controller entered for its whole body, so a nested
// Kill or heap call made from inside a process's one quantum of work
// still composes correctly.
func (k *Kernel) Tick() {
	k.cs.Enter()
	defer k.cs.Leave()

	current := k.procs.CurrentProc()
	curSlot := k.procs.slotAt(int(current))

	// 1-2: save the suspended process's register image onto its own
	// stack and record where its stack pointer now sits. A slot killed
	// during its quantum is Unused and has no stack left to save onto.
	if curSlot.State != Unused {
		regs := Registers{Status: curSlot.Priority}
		newSP, checksum := saveContext(curSlot.stack, curSlot.sp, regs)
		curSlot.sp = newSP
		curSlot.stackChecksum = checksum
	}

	// 3: switching to a scheduler-private stack has no equivalent here;
	// policy code runs on the calling goroutine's own stack.

	// 4 is folded into step 1-2 above (checksum computed at save time).

	// 5: a process still Running is demoted to Ready; one that killed
	// itself during its quantum is already Unused and is left alone.
	if curSlot.State == Running {
		curSlot.State = Ready
	}

	// 6: the escape chord opens the task-manager overlay.
	if k.btn.Read().Pressed(escapeChord) {
		k.openTaskManager()
	}

	// 7: ask the active policy for the next pid, skipping Unused slots
	// defensively (a correctly implemented policy never returns one).
	next := k.policy.Next(k.procs, current)
	for guard := 0; k.procs.State(next) == Unused && next != 0 && guard < k.procs.Len(); guard++ {
		next = k.policy.Next(k.procs, next)
	}
	nextSlot := k.procs.slotAt(int(next))

	// 8: verify the selected slot's stack wasn't corrupted while
	// suspended.
	if stackChecksum(nextSlot.stack, nextSlot.sp) != nextSlot.stackChecksum {
		k.Fatal("stack inconsistency", map[string]any{"pid": next})
		return
	}

	// 9-11: promote, restore its stack pointer, pop its register image.
	nextSlot.State = Running
	k.procs.setCurrent(next)
	_, poppedSP := restoreContext(nextSlot.stack, nextSlot.sp)
	nextSlot.sp = poppedSP

	// 12 ("return from interrupt") is where the reference design resumes
	// the newly-running process's own foreground code until the next
	// tick preempts it again. This port has no way to suspend arbitrary
	// Go code mid-quantum, so the dispatcher's one quantum of work runs
	// synchronously right here instead of on a separate timeline.
	k.ticks++
	if exited := k.procs.RunDispatcher(next); exited {
		k.procs.Kill(next)
		k.heaps.FreeProcessMemory(next)
	}
}

// Ticks reports how many scheduler ticks have run.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// openTaskManager renders the process table in the configured display
// and blocks until the escape chord is pressed again to dismiss it —
// the "interactive task-manager overlay" the reference design opens at
// a tick when the escape chord is held.
func (k *Kernel) openTaskManager() {
	rows := make([]display.ProcessRow, 0, k.procs.Len())
	k.procs.ForEachSlot(func(i int, s *ProcessSlot) {
		rows = append(rows, display.ProcessRow{
			PID:      uint8(i),
			State:    s.State.String(),
			Priority: s.Priority,
			Program:  uint8(s.ProgramID),
		})
	})
	done := make(chan struct{})
	go func() {
		for !k.btn.Read().Pressed(escapeChord) {
		}
		close(done)
	}()
	k.disp.OpenTaskManager(rows, done)
}
