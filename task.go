package rtkernel

import (
	"fmt"
	"sync"
)

type (
	// Time constrains the width of the cyclic system time. The width bounds
	// the longest expressible delay and the reliability of overrun
	// recognition; overruns in the magnitude of half the cycle won't be
	// recognized as such.
	Time interface {
		~uint8 | ~uint16 | ~uint32
	}

	// Count constrains the width of the semaphore counters.
	Count interface {
		~uint8 | ~uint16 | ~uint32
	}

	// TaskFunc is a task entry function. It is invoked once, the first time
	// the task is scheduled, with the event set that satisfied the task's
	// start condition, and must never return. A return statement trips the
	// guard return address primed onto the task stack and panics with
	// [ErrTaskReturned].
	TaskFunc[T Time, C Count] func(tc *TaskContext[T, C], resume EventMask)

	// TaskConfig carries the static per-task settings for
	// [Kernel.InitializeTask].
	TaskConfig[T Time, C Count] struct {
		// Entry is the task function. Required.
		Entry TaskFunc[T, C]

		// PrioClass is the task's priority class, 0..NumPrioClasses-1. The
		// higher the value the higher the priority.
		PrioClass int

		// RoundRobin is the task's time slice in ticks, if round-robin
		// scheduling is enabled in the kernel configuration. Zero disables
		// time slicing for this task. Round-robin behavior is only given if
		// every task of the class has a slice configured; otherwise it is
		// just a limit on this task's uninterrupted execution time.
		RoundRobin T

		// Stack is the task's statically owned stack area. If nil, the
		// kernel allocates StackSize bytes instead.
		Stack []byte

		// StackSize is the stack area size in bytes, used when Stack is
		// nil. The minimum is 50 bytes.
		StackSize int

		// StartMask, StartAll, and StartTimeout specify the condition under
		// which the task becomes due the very first time, with the same
		// meaning as the arguments of [TaskContext.WaitForEvent]. Only
		// broadcast and timer events may appear in StartMask; a task that
		// needs to own a semaphore or mutex from the beginning places an
		// explicit wait as its first statement instead.
		StartMask    EventMask
		StartAll     bool
		StartTimeout T
	}

	// task is the descriptor of a single task, including the idle task in
	// the last slot of the kernel's descriptor array. Tasks refer to each
	// other by index; the scheduler lists hold pointers into that array.
	task[T Time, C Count] struct {
		// stackPointer indexes the task's stack slice; it is the saved top
		// of stack whenever the task is not running. Pushes decrement.
		stackPointer int

		prioClass int
		entry     TaskFunc[T, C]
		stack     []byte

		// dueAt is the absolute tick at which the absolute-timer event
		// fires next. It advances relative to the previous due time, so a
		// regular task stays on its time grid independent of scheduling
		// jitter.
		dueAt T

		// delayTicks is the delay-timer countdown; zero means inactive.
		delayTicks T

		rrReload  T
		rrCounter T

		// posted accumulates the events received while suspended but not
		// yet consumed. Nonzero at switch-in identifies a task pausing
		// inside a wait; the value is the resume cause handed back as the
		// wait's result, and it is reset in the same step.
		posted   EventMask
		waitMask EventMask
		waitAll  bool

		// overruns counts recognized misses of the absolute timer,
		// saturating at 255.
		overruns uint8

		idx         int
		initialized bool

		// gate parks the task's goroutine while the task does not own the
		// CPU. It shares the kernel's interrupt lock.
		gate *sync.Cond

		// resumeCause receives the injected wait result at switch-in, ahead
		// of the task goroutine actually waking.
		resumeCause EventMask
	}

	// TaskContext is the handle through which a task's own code calls into
	// the kernel. One is passed to each task entry function; it identifies
	// the caller and must not be shared with other tasks.
	TaskContext[T Time, C Count] struct {
		k *Kernel[T, C]
		t *task[T, C]
	}
)

// Index returns the task's index in the kernel's task table.
func (tc *TaskContext[T, C]) Index() int {
	return tc.t.idx
}

// Kernel returns the kernel this task belongs to.
func (tc *TaskContext[T, C]) Kernel() *Kernel[T, C] {
	return tc.k
}

// InitializeTask configures the task at the given index. It must be called
// exactly once per task index, before Run; the kernel refuses to start with
// uninitialized slots. Calling it while the kernel runs is undefined.
func (k *Kernel[T, C]) InitializeTask(idx int, cfg TaskConfig[T, C]) error {
	if idx < 0 || idx >= k.numTasks() {
		return fmt.Errorf(`rtkernel: task index %d out of range [0,%d)`, idx, k.numTasks())
	}
	t := k.tasks[idx]
	if t.initialized {
		return fmt.Errorf(`%w: index %d`, ErrTaskAlreadyInitialized, idx)
	}
	if cfg.Entry == nil {
		return fmt.Errorf(`rtkernel: task %d: nil entry function`, idx)
	}
	if cfg.PrioClass < 0 || cfg.PrioClass >= len(k.ready) {
		return fmt.Errorf(`rtkernel: task %d: priority class %d out of range [0,%d)`, idx, cfg.PrioClass, len(k.ready))
	}
	stack := cfg.Stack
	if stack == nil {
		stack = make([]byte, cfg.StackSize)
	}
	if len(stack) < minStackSize {
		return fmt.Errorf(`rtkernel: task %d: stack of %d bytes is below the %d byte minimum`, idx, len(stack), minStackSize)
	}
	if cfg.StartMask == 0 {
		return fmt.Errorf(`rtkernel: task %d: empty start mask`, idx)
	}
	if cfg.StartMask&(k.cls.semBits|k.cls.mtxBits) != 0 {
		return fmt.Errorf(`rtkernel: task %d: start mask must not request semaphore or mutex events`, idx)
	}
	if err := checkWaitCondition(cfg.StartMask, cfg.StartAll); err != nil {
		return fmt.Errorf(`rtkernel: task %d: %w`, idx, err)
	}

	t.entry = cfg.Entry
	t.prioClass = cfg.PrioClass
	t.stack = stack
	if k.roundRobin {
		t.rrReload = cfg.RoundRobin
	}
	t.delayTicks = 0
	t.dueAt = 0
	k.storeResumeCondition(t, cfg.StartMask, cfg.StartAll, cfg.StartTimeout)
	t.initialized = true
	return nil
}

// checkWaitCondition validates the shape of a wait condition: the mask must
// not be empty, must not request both timers at once, and all-semantics
// needs at least one non-timer bit (the timers stay OR terms, so an
// all-condition of only timer bits would be satisfied by an empty event set).
func checkWaitCondition(mask EventMask, all bool) error {
	if mask == 0 || mask&evtTimerMask == evtTimerMask || (all && mask&^evtTimerMask == 0) {
		return fmt.Errorf(`%w: mask %v, all %t`, ErrBadWaitCondition, mask, all)
	}
	return nil
}
