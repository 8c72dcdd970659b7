// Package buttons models the external button input: a 4-bit mask,
// bit i set iff button i is pressed. The kernel core only ever reads this
// through the Source interface — the physical debouncing/polling this
// package would do on real hardware is out of scope here.
package buttons

// Mask is a 4-bit button state; bit i set means button i is pressed.
type Mask uint8

// Pressed reports whether every bit set in want is also set in m.
func (m Mask) Pressed(want Mask) bool {
	return m&want == want
}

// Source supplies the current button mask. The scheduler ISR polls it
// once per tick to detect the task-manager escape chord.
type Source interface {
	Read() Mask
}

// Static is a Source with a fixed mask, useful for tests and for headless
// runs of spos-sim where no real input device is attached.
type Static struct {
	Mask Mask
}

// Read implements Source.
func (s Static) Read() Mask { return s.Mask }

// Func adapts a plain function to Source.
type Func func() Mask

// Read implements Source.
func (f Func) Read() Mask { return f() }
