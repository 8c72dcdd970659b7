// Package display implements the "Display output" external interface of
// single-line and two-line text writes for error messages, plus the
// interactive task-manager overlay the scheduler ISR opens on the
// acknowledgment button chord. The real two-line character LCD the
// original hardware drives is out of scope; this package's
// job is only the narrow text-in/overlay-out surface the kernel core
// talks to.
package display

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ProcessRow is one row of the task-manager overlay.
type ProcessRow struct {
	PID      uint8
	State    string
	Priority uint8
	Program  uint8
}

// Display is the narrow surface the kernel core depends on. Line writes
// never block; OpenTaskManager does, until the caller dismisses it. The
// kernel calls it from inside Tick, with the critical section entered
// for as long as the overlay stays open.
type Display interface {
	WriteLine(row int, text string)
	Clear()
	OpenTaskManager(rows []ProcessRow, dismiss <-chan struct{})
}

// Null is a Display that discards everything; used by tests and by
// spos-sim when run with --headless.
type Null struct{}

func (Null) WriteLine(int, string)                         {}
func (Null) Clear()                                        {}
func (Null) OpenTaskManager([]ProcessRow, <-chan struct{}) {}

// Recorder is a Display that keeps the last two lines in memory, useful
// for assertions in tests that want to observe a fatal-error message
// without a terminal attached.
type Recorder struct {
	Lines [2]string
}

func (r *Recorder) WriteLine(row int, text string) {
	if row >= 0 && row < len(r.Lines) {
		r.Lines[row] = text
	}
}
func (r *Recorder) Clear()                                        { r.Lines = [2]string{} }
func (r *Recorder) OpenTaskManager([]ProcessRow, <-chan struct{}) {}

// Terminal is a Display backed by a real tview.Application, two lines of
// text above a table-based task-manager modal.
type Terminal struct {
	app   *tview.Application
	lines *tview.TextView
}

// NewTerminal wires a two-line text view inside a tview application. Call
// Run in its own goroutine; it blocks until the application stops.
func NewTerminal() *Terminal {
	lines := tview.NewTextView().SetDynamicColors(false)
	lines.SetBorder(true).SetTitle("SPOS")
	app := tview.NewApplication().SetRoot(lines, true)
	return &Terminal{app: app, lines: lines}
}

// Run starts the tview event loop; it returns when Stop is called.
func (t *Terminal) Run() error {
	return t.app.Run()
}

// Stop tears down the terminal application.
func (t *Terminal) Stop() {
	t.app.Stop()
}

func (t *Terminal) WriteLine(row int, text string) {
	t.app.QueueUpdateDraw(func() {
		cur := t.lines.GetText(false)
		linesOut := splitOrPad(cur, 2)
		linesOut[row%2] = text
		t.lines.SetText(linesOut[0] + "\n" + linesOut[1])
	})
}

func (t *Terminal) Clear() {
	t.app.QueueUpdateDraw(func() {
		t.lines.SetText("")
	})
}

// OpenTaskManager renders a modal table of process rows and blocks the
// calling goroutine until dismiss fires (the scheduler ISR closes
// dismiss once the acknowledgment chord is seen again).
func (t *Terminal) OpenTaskManager(rows []ProcessRow, dismiss <-chan struct{}) {
	table := tview.NewTable().SetBorders(false)
	headers := []string{"PID", "STATE", "PRIO", "PROG"}
	for c, h := range headers {
		table.SetCell(0, c, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tcell.ColorYellow))
	}
	for r, row := range rows {
		table.SetCell(r+1, 0, tview.NewTableCell(fmt.Sprintf("%d", row.PID)))
		table.SetCell(r+1, 1, tview.NewTableCell(row.State))
		table.SetCell(r+1, 2, tview.NewTableCell(fmt.Sprintf("%d", row.Priority)))
		table.SetCell(r+1, 3, tview.NewTableCell(fmt.Sprintf("%d", row.Program)))
	}
	table.SetBorder(true).SetTitle("Task Manager")

	done := make(chan struct{})
	go func() {
		select {
		case <-dismiss:
		}
		t.app.QueueUpdateDraw(func() {
			t.app.SetRoot(t.lines, true)
		})
		close(done)
	}()

	t.app.QueueUpdateDraw(func() {
		t.app.SetRoot(table, true)
	})
	<-done
}

func splitOrPad(s string, n int) []string {
	out := make([]string, n)
	line := 0
	start := 0
	for i := 0; i < len(s) && line < n; i++ {
		if s[i] == '\n' {
			out[line] = s[start:i]
			line++
			start = i + 1
		}
	}
	if line < n {
		out[line] = s[start:]
	}
	return out
}
