package rtkernel

import (
	"fmt"
	"math/bits"
)

// PostEvent posts a set of events from outside any task: from the idle body
// or from an interrupt service routine's framing sequence. Broadcast bits
// are OR-ed into every eligible waiter; each semaphore and mutex bit is
// handed to at most one task, the eligible waiter of highest priority that
// has been waiting longest. An event nobody is waiting for is not saved
// beyond the semaphore and mutex stores: a broadcast event posted with no
// waiter is simply lost.
//
// The mask must not contain the timer events; those are set by the tick
// handler only.
func (k *Kernel[T, C]) PostEvent(mask EventMask) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deliverAndReselect(mask)
}

// PostEvent posts a set of events from the calling task. If the post wakes
// a task of higher priority the caller is preempted, staying ready but not
// running, and the call returns only once the caller owns the CPU again.
func (tc *TaskContext[T, C]) PostEvent(mask EventMask) {
	k := tc.k
	k.enterKernel(tc.t)
	k.deliverAndReselect(mask)
	k.awaitCPU(tc.t)
	k.mu.Unlock()
}

// ApplInterrupt is the handler body of application interrupt n. The
// application's interrupt framing calls it with no further arguments; the
// designated broadcast event (bit 13 for interrupt 0, bit 12 for interrupt
// 1) travels the exact same delivery-and-reselect path as a task-initiated
// post, so the semantics of an event do not depend on its origin.
func (k *Kernel[T, C]) ApplInterrupt(n int) {
	if n < 0 || n >= k.applIRQs {
		panic(fmt.Sprintf(`rtkernel: application interrupt %d not configured`, n))
	}
	k.PostEvent(EvtApplInterrupt0 >> n)
}

// deliverAndReselect is the shared tail of every post operation. It
// delivers the mask to the suspended tasks in list order (highest priority
// first, FIFO within a class), banks the undeliverable semaphore and mutex
// bits in their stores, and switches context if a delivery changed the
// ready set in favor of another task.
//
// Must be called with the interrupt lock held.
func (k *Kernel[T, C]) deliverAndReselect(mask EventMask) {
	if mask&evtTimerMask != 0 {
		panic(fmt.Errorf(`%w: %v`, ErrTimerBitsPosted, mask))
	}
	if !k.running {
		return
	}
	k.logPost(mask)

	// Semaphores and mutexes are released exactly once, to the first task
	// in walk order that wants them; the bits are consumed out of these
	// vectors as they are handed over. Whatever remains afterwards goes to
	// the stores.
	semToRelease := mask & k.cls.semBits
	mtxToRelease := mask & k.cls.mtxBits
	allMtxToRelease := mtxToRelease
	broadcast := mask &^ (k.cls.semBits | k.cls.mtxBits)

	mayChange := false
	for i := 0; i < len(k.suspended); {
		t := k.suspended[i]
		before := t.posted

		// A mutex is Boolean; handing one to a task that already holds it
		// means the application lost track of ownership.
		if t.posted&allMtxToRelease != 0 {
			panic(fmt.Errorf(`%w: task %d, mask %v`, ErrMutexDoubleGrant, t.idx, t.posted&allMtxToRelease))
		}

		got := (broadcast | mtxToRelease) & t.waitMask
		t.posted |= got
		mtxToRelease &^= got

		// Semaphores are counters, not bits; each one goes to the first
		// walked task that awaits it and has not received it in an earlier
		// post.
		for sem := semToRelease & t.waitMask &^ t.posted; sem != 0; sem &= sem - 1 {
			bit := sem & -sem
			t.posted |= bit
			semToRelease &^= bit
		}

		if before != t.posted && k.checkActivation(i) {
			mayChange = true
		} else {
			i++
		}
	}

	// Leftover semaphore units accumulate in the store for later
	// acquisition. A counter that wraps on produce is an application
	// design error.
	for sem := semToRelease; sem != 0; sem &= sem - 1 {
		bit := sem & -sem
		idx := bitIndex(bit)
		k.sem[idx]++
		if k.sem[idx] == 0 {
			panic(fmt.Errorf(`%w: semaphore %d`, ErrSemaphoreOverflow, idx))
		}
	}

	// Leftover mutexes return to the free bitmap. Releasing a mutex that
	// is already free means nobody owned it.
	if k.mutexFree&allMtxToRelease != 0 {
		panic(fmt.Errorf(`%w: mask %v`, ErrMutexNotOwned, k.mutexFree&allMtxToRelease))
	}
	k.mutexFree |= mtxToRelease

	if mayChange && k.selectActive() {
		k.switchContext(false)
	}
}

// bitIndex returns the position of the single set bit in m.
func bitIndex(m EventMask) int {
	return bits.TrailingZeros16(uint16(m))
}
