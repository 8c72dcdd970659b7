// Package kernel ties the process table, the scheduling policies, the
// critical-section controller, and the heap registry together into a
// single bootable unit, and implements the dispatcher trampoline and
// the timer-driven scheduler ISR.
package kernel

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mnghiap/spos/internal/buttons"
	"github.com/mnghiap/spos/internal/config"
	"github.com/mnghiap/spos/internal/display"
	"github.com/mnghiap/spos/internal/klog"
	"github.com/mnghiap/spos/kernel/critical"
	"github.com/mnghiap/spos/kernel/mem"
)

// escapeChord is the button combination ("first bit and fourth bit")
// that both opens the task-manager overlay at a tick and acknowledges a
// fatal error.
const escapeChord buttons.Mask = 0b1001

// Kernel is the single kernel-state value every public operation acts
// on. spos-sim builds exactly one and drives its Tick directly; there is
// no package-level handle to it.
type Kernel struct {
	cfg      config.Config
	cs       *critical.Controller
	procs    *ProcessTable
	programs *ProgramTable
	heaps    *mem.Registry
	policy   SchedulingStrategy

	disp    display.Display
	btn     buttons.Source
	log     *logrus.Entry
	booted  bool
	ticks   uint64
	fatal   bool
	dismiss chan struct{}
}

// strategyFor maps the configured scheduling policy name to an
// instance. spos-sim and tests both go through this so the mapping
// lives in one place.
func strategyFor(name string, seed int64) SchedulingStrategy {
	switch name {
	case "even":
		return Even{}
	case "random":
		return NewRandom(seed)
	case "round-robin":
		return &RoundRobin{}
	case "inactive-aging":
		return InactiveAging{}
	case "run-to-completion":
		return RunToCompletion{}
	default:
		return Even{}
	}
}

// AllocStrategyFromConfig maps the configured default allocation
// strategy name to the mem package's Strategy enum.
func AllocStrategyFromConfig(a config.AllocStrategy) mem.Strategy {
	switch a {
	case config.FirstFit:
		return mem.FirstFit
	case config.NextFit:
		return mem.NextFit
	case config.BestFit:
		return mem.BestFit
	case config.WorstFit:
		return mem.WorstFit
	default:
		return mem.FirstFit
	}
}

// New builds an un-booted kernel. programs must already have every
// autostart entry registered (idle always at id 0).
func New(cfg config.Config, programs *ProgramTable, disp display.Display, btn buttons.Source, strategyName string, seed int64) *Kernel {
	cs := critical.New()
	k := &Kernel{
		cfg:      cfg,
		cs:       cs,
		programs: programs,
		procs:    NewProcessTable(cfg.MaxProcesses, uint32(cfg.StackSize), programs),
		heaps:    mem.NewRegistry(),
		policy:   strategyFor(strategyName, seed),
		disp:     disp,
		btn:      btn,
		log:      klog.For("kernel"),
		dismiss:  make(chan struct{}, 1),
	}
	return k
}

// Heaps exposes the heap registry so main can register the internal and
// external heaps before Boot.
func (k *Kernel) Heaps() *mem.Registry { return k.heaps }

// Critical exposes the controller so drivers constructed outside the
// kernel (an ExternalDriver) can share it.
func (k *Kernel) Critical() *critical.Controller { return k.cs }

// Fatal is the FatalFunc every heap in k.heaps is wired to, and the
// routine kernel-internal integrity checks call directly: it displays
// the message and busy-waits for the acknowledgment chord, mirroring
// the reference design's disable-display-wait-restore sequence except
// that "restore" here just means returning control to the caller, which
// in practice always treats the call as terminal for the operation in
// progress.
func (k *Kernel) Fatal(msg string, fields map[string]any) {
	k.fatal = true
	k.log.WithFields(fields).Error(msg)
	k.disp.WriteLine(0, "FATAL: "+msg)
	k.disp.WriteLine(1, "ack: press buttons 0+3")
	for !k.btn.Read().Pressed(escapeChord) {
		// busy-wait for the acknowledgment chord, exactly as the
		// reference error() routine does.
	}
	k.fatal = false
}

func (k *Kernel) Fatalf(msg string, fields map[string]any) { k.Fatal(msg, fields) }

// Halted reports whether the kernel is currently inside Fatal's
// wait-for-acknowledgment loop.
func (k *Kernel) Halted() bool { return k.fatal }

// RegisterProgram is a thin forwarding wrapper kept on Kernel for
// symmetry with Exec/Kill; most callers register directly against the
// ProgramTable returned by Programs.
func (k *Kernel) RegisterProgram(name string, fn Factory, autostart bool) int {
	return k.programs.Register(name, fn, autostart)
}

// Programs exposes the program table for registration before Boot.
func (k *Kernel) Programs() *ProgramTable { return k.programs }

// Procs exposes the process table, mainly for tests and the ps
// subcommand.
func (k *Kernel) Procs() *ProcessTable { return k.procs }

// Exec is the atomic process-creation operation: find a free slot,
// build its initial context, mark it Ready.
func (k *Kernel) Exec(programID int, priority uint8) int {
	var pid int
	k.cs.Do(func() {
		pid = k.procs.Exec(programID, priority)
		if pid != InvalidPID {
			k.policy.Reset(k.procs, uint8(pid))
		}
	})
	return pid
}

// Kill marks pid Unused and releases its memory on every heap.
//
// The reference design has a process that kills itself reset the
// critical-section depth to 1 and spin until the next timer tick
// reclaims the CPU. That has no equivalent here: a Program's Run is
// ordinary synchronous Go code invoked from inside Tick, not a
// foreground loop the ISR can preempt out from under, so spinning here
// would simply hang the scheduler forever instead of yielding to it.
// Self-kill is instead handled the same way program-body exit is —
// immediately, by the dispatcher step of Tick — and Kill itself never
// blocks.
func (k *Kernel) Kill(pid uint8) bool {
	var ok bool
	k.cs.Do(func() {
		ok = k.procs.Kill(pid)
		if !ok {
			return
		}
		k.heaps.FreeProcessMemory(pid)
	})
	return ok
}

// Boot runs the bootstrap sequence: zero every heap's map, install the
// idle process and every autostart program, then mark idle Running.
func (k *Kernel) Boot() {
	k.log.Info("booting")
	for _, h := range k.heaps.All() {
		h.Zero()
	}
	for _, id := range k.programs.AutostartIDs() {
		pid := k.procs.Exec(id, 128)
		k.log.WithFields(map[string]any{"program": k.programs.Name(id), "pid": pid}).Info("autostarted")
	}
	k.procs.slotAt(0).State = Running
	k.procs.setCurrent(0)
	k.booted = true
}

// Run drives the scheduler ISR off a ticker at the configured period
// until stop is closed. Call Boot first.
func (k *Kernel) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(k.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			k.Tick()
		}
	}
}
