package rtkernel

// EnterCriticalSection suspends every source of a task switch until the
// matching LeaveCriticalSection: ticks, posts, and application interrupts
// all stall at the kernel boundary. This is the kernel's sole intra-state
// synchronization primitive; it models disabling the CPU's global interrupt
// flag and is therefore not reentrant. Nesting critical sections, or
// calling a kernel primitive between Enter and Leave, is an application
// error and deadlocks.
//
// This variant is for the idle body and other non-task code; tasks use the
// [TaskContext] variant, which additionally pins the caller as the running
// task.
func (k *Kernel[T, C]) EnterCriticalSection() {
	k.mu.Lock()
}

// LeaveCriticalSection reopens the kernel after EnterCriticalSection.
func (k *Kernel[T, C]) LeaveCriticalSection() {
	k.mu.Unlock()
}

// EnterCriticalSection brackets task code that must not be preempted. See
// [Kernel.EnterCriticalSection] for the rules; additionally, the calling
// task first regains the CPU if it lost it since its last kernel exit.
func (tc *TaskContext[T, C]) EnterCriticalSection() {
	tc.k.enterKernel(tc.t)
}

// LeaveCriticalSection reopens the kernel after EnterCriticalSection.
func (tc *TaskContext[T, C]) LeaveCriticalSection() {
	tc.k.mu.Unlock()
}
