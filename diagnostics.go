package rtkernel

import (
	"fmt"
)

// TaskOverrunCounter returns the number of recognized deadline misses of the
// given task's absolute timer. The counter saturates at 255; a real
// application should never see it move at all. With reset, the value is read
// and cleared in one atomic step, so the caller can accumulate it into a
// wider counter without losing increments.
//
// Overruns are defined only for regular tasks driven by the absolute timer,
// and recognition is probabilistic: misses in the magnitude of half the
// time type's cycle go unnoticed, and tasks with a period beyond half the
// cycle produce false positives.
func (k *Kernel[T, C]) TaskOverrunCounter(idx int, reset bool) uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.taskAt(idx)
	v := t.overruns
	if reset {
		t.overruns = 0
	}
	return v
}

// StackReserve computes how many bytes at the bottom of the given task's
// stack area were never touched, by counting sentinel bytes upward from the
// bottom until the first overwritten one. The result is useful to right-size
// static stack allocations after the application has been driven through
// all its paths for a long while; it errs on the optimistic side by up to a
// few bytes, since pushed data can coincide with the sentinel.
func (k *Kernel[T, C]) StackReserve(idx int) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.taskAt(idx)
	n := 0
	for n < len(t.stack) && t.stack[n] == stackSentinel {
		n++
	}
	return n
}

// Time returns the current cyclic system time.
func (k *Kernel[T, C]) Time() T {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.time
}

func (k *Kernel[T, C]) taskAt(idx int) *task[T, C] {
	if idx < 0 || idx >= k.numTasks() {
		panic(fmt.Sprintf(`rtkernel: task index %d out of range [0,%d)`, idx, k.numTasks()))
	}
	return k.tasks[idx]
}
