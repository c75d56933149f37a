package rtkernel

import (
	"errors"
)

// Standard errors.
var (
	// ErrAlreadyRunning is returned by Run when the kernel was started twice.
	ErrAlreadyRunning = errors.New("rtkernel: kernel is already running")

	// ErrTerminated is returned by Run after the kernel has been shut down.
	ErrTerminated = errors.New("rtkernel: kernel has been terminated")

	// ErrTaskNotInitialized is returned by Run if any task slot was not set
	// up via InitializeTask before start.
	ErrTaskNotInitialized = errors.New("rtkernel: task not initialized")

	// ErrTaskAlreadyInitialized is returned by InitializeTask when called
	// twice for the same task index.
	ErrTaskAlreadyInitialized = errors.New("rtkernel: task already initialized")
)

// Programming errors. The kernel trusts its callers at runtime; these
// conditions indicate a defective application and are raised as panics from
// the call that violated its contract, wrapping one of the values below.
var (
	// ErrTimerBitsPosted reports a post operation whose mask contained one
	// of the timer events. Timer events are set by the tick handler only.
	ErrTimerBitsPosted = errors.New("rtkernel: posted mask contains timer events")

	// ErrBadWaitCondition reports an ill-formed wait condition: an empty
	// mask, both timer bits requested at once, or all-semantics with no
	// non-timer bit to combine.
	ErrBadWaitCondition = errors.New("rtkernel: ill-formed wait condition")

	// ErrMutexDoubleGrant reports release of a mutex to a task that already
	// holds it. The application lost track of mutex ownership.
	ErrMutexDoubleGrant = errors.New("rtkernel: mutex granted to owner twice")

	// ErrMutexNotOwned reports release of a mutex that nobody holds.
	ErrMutexNotOwned = errors.New("rtkernel: released mutex is not owned")

	// ErrSemaphoreOverflow reports a semaphore counter that would wrap on
	// produce. The counter width is too small for the application's design.
	ErrSemaphoreOverflow = errors.New("rtkernel: semaphore counter overflow")

	// ErrTaskReturned reports a task entry function that returned. Task
	// functions must never return; the primed guard return address on the
	// task stack makes this the equivalent of a controller reset.
	ErrTaskReturned = errors.New("rtkernel: task function returned")

	// ErrStackCorrupt reports a context frame on a task stack that does not
	// match what the context-restore sequence expects.
	ErrStackCorrupt = errors.New("rtkernel: task stack image corrupt")
)
