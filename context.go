package rtkernel

import (
	"fmt"
	"runtime"
)

// The context engine. A task's context is the register file, the processor
// status word, and the program counter, stored as a frame on the task's own
// stack while the task does not own the CPU. The layout is deliberately
// architecture-neutral but byte-exact: priming, saving, restoring, and the
// return-value injection all operate on the same image, and the restore
// sequence cross-checks what it pops.
//
// Two frame shapes exist. A task switched out inside a wait leaves a frame
// WITHOUT the two bytes of the argument/return register pair; those bytes
// are synthesized at switch-in from the accumulated event set (the resume
// cause of the wait). A task switched out by preemption leaves a full frame
// including the pair. The two cases are told apart at switch-in by the
// accumulated event set alone: it is nonzero exactly for a task pausing
// inside a wait. This is the single asymmetry of the save/restore pair.

const (
	// stackSentinel fills the unused part of a task stack at priming time.
	// StackReserve counts how far up the sentinel run survives. The value
	// must not be zero, which terminates every scan at the context frame.
	stackSentinel = 0x29

	// minStackSize is the smallest accepted stack area; anything below
	// cannot even hold the primed frame plus a useful reserve.
	minStackSize = 50

	// numSavedRegs is the register file portion of a frame, excluding the
	// argument/return pair.
	numSavedRegs = 30

	// pswInitial is the status word primed for a fresh task: interrupt
	// enable set, all arithmetic flags clear.
	pswInitial = 0x80

	// frameBytes is the size of a frame without the argument pair: program
	// counter, status word, and register file.
	frameBytes = 2 + 1 + numSavedRegs
)

// Program-counter tokens. The top nibble encodes where the context will
// continue; the low bits carry the task index for the restore cross-check.
// The guard value 0 is primed beneath the entry frame so that a returning
// task function hits a trap instead of an undetermined crash.
const (
	pcGuard     uint16 = 0x0000
	pcKindEntry uint16 = 0xe000
	pcKindWait  uint16 = 0xa000
	pcKindPark  uint16 = 0x9000
	pcKindMask  uint16 = 0xf000
)

func pcEntry(idx int) uint16 { return pcKindEntry | uint16(idx) }
func pcWait(idx int) uint16  { return pcKindWait | uint16(idx) }
func pcPark(idx int) uint16  { return pcKindPark | uint16(idx) }

// push8 writes one byte at the stack pointer, post-decrementing.
func (t *task[T, C]) push8(b byte) {
	t.stack[t.stackPointer] = b
	t.stackPointer--
}

// push16 pushes low byte first, so the pop order is high, low.
func (t *task[T, C]) push16(v uint16) {
	t.push8(byte(v))
	t.push8(byte(v >> 8))
}

func (t *task[T, C]) pop8() byte {
	t.stackPointer++
	return t.stack[t.stackPointer]
}

func (t *task[T, C]) pop16() uint16 {
	hi := t.pop8()
	lo := t.pop8()
	return uint16(hi)<<8 | uint16(lo)
}

// prepareStack primes the stack of a task that has never run, writing the
// byte pattern the context-restore sequence expects: the guard return
// address, the entry program counter, and a zeroed register context with a
// clean status word. The argument pair is absent from the image; it is
// supplied by the injection step the first time the task is scheduled. The
// remaining stack bytes are filled with the sentinel.
func (k *Kernel[T, C]) prepareStack(t *task[T, C]) {
	t.stackPointer = len(t.stack) - 1
	t.push16(pcGuard)
	t.push16(pcEntry(t.idx))
	t.push8(pswInitial)
	for i := 0; i < numSavedRegs; i++ {
		t.push8(0)
	}
	for i := t.stackPointer; i >= 0; i-- {
		t.stack[i] = stackSentinel
	}
}

// ctxSave pushes the outgoing task's context onto its own stack. Wait-path
// saves omit the argument pair; preemption saves include it.
func (k *Kernel[T, C]) ctxSave(t *task[T, C], pc uint16, withPair bool, pair uint16) {
	t.push16(pc)
	t.push8(pswInitial)
	for i := 0; i < numSavedRegs; i++ {
		t.push8(0)
	}
	if withPair {
		t.push16(pair)
	}
}

// ctxRestore pops the incoming task's context from its stack and returns the
// continuation point together with the restored argument pair. If the task
// pauses inside a wait (accumulated events nonzero), the pair is first
// synthesized from the accumulated set, which is reset in the same step so
// that later ready/active cycles of the task never inject again.
func (k *Kernel[T, C]) ctxRestore(t *task[T, C]) (pc, pair uint16) {
	if t.posted != 0 {
		cause := t.posted
		t.posted = 0
		t.resumeCause = cause
		t.push16(uint16(cause))
	}
	pair = t.pop16()
	for i := 0; i < numSavedRegs; i++ {
		t.pop8()
	}
	if psw := t.pop8(); psw != pswInitial {
		panic(fmt.Errorf(`%w: task %d: bad status word 0x%02x`, ErrStackCorrupt, t.idx, psw))
	}
	pc = t.pop16()
	if int(pc&^pcKindMask) != t.idx {
		panic(fmt.Errorf(`%w: task %d: continuation 0x%04x belongs to another task`, ErrStackCorrupt, t.idx, pc))
	}
	switch pc & pcKindMask {
	case pcKindEntry, pcKindWait, pcKindPark:
	default:
		panic(fmt.Errorf(`%w: task %d: bad continuation 0x%04x`, ErrStackCorrupt, t.idx, pc))
	}
	return pc, pair
}

// switchContext performs the task switch recorded in the scheduler state:
// the context of the task in outgoing is saved onto its stack and the task
// in current is entered. fromWait selects the wait-path save, which leaves
// the argument pair out of the outgoing frame.
//
// Must be called with the interrupt lock held.
func (k *Kernel[T, C]) switchContext(fromWait bool) {
	out := k.outgoing
	if out != k.idleTask() {
		if fromWait {
			k.ctxSave(out, pcWait(out.idx), false, 0)
		} else {
			k.ctxSave(out, pcPark(out.idx), true, 0)
		}
	}
	k.logSwitch(out, k.current)
	k.enterContext(k.current)
}

// enterContext resumes execution of the incoming task. The idle task has no
// stack image and its event set is pinned to zero, so it is simply woken.
// For a real task, the restored continuation decides: the entry token spawns
// the task goroutine with the injected start cause; anything else wakes the
// goroutine parked at the frame's continuation point.
func (k *Kernel[T, C]) enterContext(in *task[T, C]) {
	if in == k.idleTask() {
		in.gate.Signal()
		return
	}
	pc, pair := k.ctxRestore(in)
	if pc == pcEntry(in.idx) {
		go k.taskMain(in, EventMask(pair))
		return
	}
	in.gate.Signal()
}

// taskMain is the goroutine body backing one task. Falling off the end of
// the entry function lands on the guard return address: a trap, not a
// crash.
func (k *Kernel[T, C]) taskMain(t *task[T, C], resume EventMask) {
	tc := &TaskContext[T, C]{k: k, t: t}
	t.entry(tc, resume)
	panic(fmt.Errorf(`%w: task %d`, ErrTaskReturned, t.idx))
}

// enterKernel is the kernel entry common to every call a task makes. A task
// that lost the CPU since its last kernel exit stops here until it is
// scheduled again; this is the preemption point of the port. Returns with
// the interrupt lock held.
func (k *Kernel[T, C]) enterKernel(t *task[T, C]) {
	k.mu.Lock()
	k.awaitCPU(t)
}

// awaitCPU parks the calling task's goroutine until the task owns the CPU.
// Must be called with the interrupt lock held; returns with it held. If the
// kernel is shut down while parked, the goroutine is released and exits.
func (k *Kernel[T, C]) awaitCPU(t *task[T, C]) {
	for k.current != t {
		if k.stopped {
			k.mu.Unlock()
			runtime.Goexit()
		}
		t.gate.Wait()
	}
	if k.stopped {
		k.mu.Unlock()
		runtime.Goexit()
	}
}
