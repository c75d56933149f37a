package rtkernel

import (
	"golang.org/x/exp/constraints"
)

// Ready-task selection and the list plumbing between the ready classes and
// the suspended list. All of it runs with the interrupt lock held.

// topBit returns the sign bit of an unsigned cyclic counter type.
func topBit[T constraints.Unsigned]() T {
	m := ^T(0)
	return m &^ (m >> 1)
}

// notInFuture reports whether the cyclic instant due lies at or before now.
// The comparison is by signed wrap-aware difference, never by naive
// less-than: a due time more than half the cycle ahead reads as "in the
// past".
func notInFuture[T constraints.Unsigned](due, now T) bool {
	d := due - now
	return d == 0 || d&topBit[T]() != 0
}

// selectActive determines the task owning the CPU after tasks became ready:
// the head of the highest nonempty priority class. The previous owner is
// recorded in outgoing for the context switch. Reports whether the owner
// changed.
//
// Callers guarantee at least one ready task; the fallback to idle when a
// task suspends itself is handled in the wait path.
func (k *Kernel[T, C]) selectActive() bool {
	for cls := len(k.ready) - 1; cls >= 0; cls-- {
		if len(k.ready[cls]) > 0 {
			k.outgoing = k.current
			k.current = k.ready[cls][0]
			return k.current != k.outgoing
		}
	}
	return false
}

// checkActivation tests the task at position i of the suspended list against
// the resume predicate and, if it holds, moves the task to the tail of its
// ready class. A resumed round-robin task gets a fresh time slice. Reports
// whether the task was moved; the caller's iteration index then stays put,
// as the tail of the suspended list shifted down by one.
func (k *Kernel[T, C]) checkActivation(i int) bool {
	t := k.suspended[i]
	if !resumable(t.posted, t.waitMask, t.waitAll) {
		return false
	}
	if k.roundRobin {
		t.rrCounter = t.rrReload
	}
	k.removeSuspendedAt(i)
	k.ready[t.prioClass] = append(k.ready[t.prioClass], t)
	return true
}

func (k *Kernel[T, C]) removeSuspendedAt(i int) {
	copy(k.suspended[i:], k.suspended[i+1:])
	k.suspended = k.suspended[:len(k.suspended)-1]
}

// removeReadyHead takes the running task out of its ready class before it
// suspends. The running task is always the head of its class.
func (k *Kernel[T, C]) removeReadyHead(t *task[T, C]) {
	cls := k.ready[t.prioClass]
	copy(cls, cls[1:])
	k.ready[t.prioClass] = cls[:len(cls)-1]
}

// insertSuspended places a task on the suspended list. With semaphores or
// mutexes configured the list is ordered by decreasing priority, FIFO
// within a class: the insert position is before the first strictly lower
// class, so the newcomer queues behind every peer of its own class, which
// have been waiting longer and receive a later posted token first.
func (k *Kernel[T, C]) insertSuspended(t *task[T, C]) {
	if !k.cls.syncObjects() {
		k.suspended = append(k.suspended, t)
		return
	}
	pos := len(k.suspended)
	for i, s := range k.suspended {
		if s.prioClass < t.prioClass {
			pos = i
			break
		}
	}
	k.suspended = append(k.suspended, nil)
	copy(k.suspended[pos+1:], k.suspended[pos:])
	k.suspended[pos] = t
}
