// Package rtkernel implements the core of a small preemptive real-time
// multitasking kernel: a fixed set of tasks scheduled by priority class with
// optional round-robin time slicing, synchronizing on a 16-bit event vector
// whose bits are statically classified as counting semaphores, binary
// mutexes, broadcast events, or one of the two timer events.
//
// The kernel is clocked by an external periodic tick. Every call to
// [Kernel.Tick] advances the cyclic system time by one, serves the per-task
// timers, and may preempt the running task. Tasks suspend themselves with
// [TaskContext.WaitForEvent] and are resumed by timer expiry or by events
// posted via [TaskContext.PostEvent], [Kernel.PostEvent], or
// [Kernel.ApplInterrupt].
//
// # Execution model
//
// Exactly one task is logically running at any time; the scheduler state is
// authoritative. Each task is mapped onto a dedicated goroutine, gated so
// that a task which loses the CPU stops at its next kernel entry and does
// not observe or mutate kernel state until it is scheduled again. All kernel
// state is mutated under a single critical section which models the CPU's
// global interrupt flag; [Kernel.EnterCriticalSection] exposes it to
// application code. Critical sections must not be nested.
//
// The width of the cyclic system time (uint8, uint16, or uint32) and of the
// semaphore counters are type parameters of [Kernel], chosen once by the
// application.
package rtkernel
