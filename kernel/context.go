package kernel

// Registers is the synthetic register file the ISR saves to and
// restores from a process's stack: eight general-purpose byte registers
// plus a status byte, standing in for whatever the target's real
// register set is. Only their survival across a save+restore pair is
// asserted anywhere in this port.
type Registers struct {
	GP     [8]byte
	Status byte
}

func (r Registers) bytes() []byte {
	out := make([]byte, 9)
	copy(out, r.GP[:])
	out[8] = r.Status
	return out
}

func registersFromBytes(b []byte) Registers {
	var r Registers
	copy(r.GP[:], b[:8])
	r.Status = b[8]
	return r
}

const registerImageSize = 9

// dispatcherEntry is the synthetic "address" exec lays onto a fresh
// stack in place of a real return address, high byte first as the
// hardware's return instruction expects on a big-endian 8-bit target.
const dispatcherEntry uint16 = 0xD15C

// pushBytes copies b onto stack starting at offset sp (0 = stack top,
// increasing sp = more bytes pushed) and returns the new sp.
func pushBytes(stack []byte, sp int, b []byte) int {
	copy(stack[sp:], b)
	return sp + len(b)
}

// popBytes removes the last n bytes pushed, returning them and the new
// (smaller) sp.
func popBytes(stack []byte, sp, n int) ([]byte, int) {
	sp -= n
	out := make([]byte, n)
	copy(out, stack[sp:sp+n])
	return out, sp
}

// stackChecksum XOR-folds every byte currently pushed (offsets
// [0, sp)), i.e. from the stack's fixed top down to one byte above the
// saved stack pointer.
func stackChecksum(stack []byte, sp int) byte {
	var x byte
	for i := 0; i < sp; i++ {
		x ^= stack[i]
	}
	return x
}

// initializeStack writes the dispatcher's entry address where a return
// address would go, then a zeroed register save area on top of it, into
// an already-zeroed stack region, so that a subsequent restore+return
// lands in the dispatcher with a clean register file. Returns the stack
// pointer offset past the written image.
func initializeStack(stack []byte) (sp int) {
	sp = pushBytes(stack, 0, []byte{byte(dispatcherEntry >> 8), byte(dispatcherEntry & 0xFF)})
	sp = pushBytes(stack, sp, make([]byte, registerImageSize))
	return sp
}

// saveContext pushes regs onto stack at sp, returning the new sp and the
// checksum of everything now pushed.
func saveContext(stack []byte, sp int, regs Registers) (newSP int, checksum byte) {
	newSP = pushBytes(stack, sp, regs.bytes())
	return newSP, stackChecksum(stack, newSP)
}

// restoreContext pops the most recently saved register image back off
// the stack.
func restoreContext(stack []byte, sp int) (regs Registers, newSP int) {
	b, newSP := popBytes(stack, sp, registerImageSize)
	return registersFromBytes(b), newSP
}
