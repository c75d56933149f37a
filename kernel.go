package rtkernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/joeycumines/logiface"
)

type (
	// Config models the kernel configuration, fixed at construction time.
	// The zero value of most fields is a valid, minimal choice; NewKernel
	// validates the rest.
	Config[T Time, C Count] struct {
		// NumTasks is the number of application tasks, 0..127. The task set
		// is fixed; there is no dynamic creation or destruction.
		NumTasks int

		// NumPrioClasses is the number of priority classes, at least 1.
		// Higher class value means higher priority.
		NumPrioClasses int

		// MaxTasksPerPrioClass is the expected number of tasks sharing one
		// class, 1..NumTasks. It sizes the ready lists; the number of tasks
		// assigned to a class is not checked against it.
		// **Defaults to NumTasks, if 0.**
		MaxTasksPerPrioClass int

		// NumSemaphores is the number of counting-semaphore events,
		// occupying bits 0..NumSemaphores-1. At most 8.
		NumSemaphores int

		// NumMutexes is the number of binary-mutex events, occupying the
		// bits directly above the semaphores. NumSemaphores+NumMutexes must
		// leave room for the timer bits and any application interrupts.
		NumMutexes int

		// SemaphoreInitialValues provides the starting counter value per
		// semaphore. Length must equal NumSemaphores.
		SemaphoreInitialValues []C

		// ApplInterrupts enables 0, 1, or 2 application interrupts. Each
		// one binds a broadcast event from the top of the broadcast range:
		// interrupt 0 posts bit 13, interrupt 1 posts bit 12.
		ApplInterrupts int

		// RoundRobin enables time slicing within a priority class.
		RoundRobin bool

		// OverrunSnap, when enabled, compresses a missed absolute-timer
		// cycle into a single tick by snapping the due time to the tick
		// after the current one. Leave it off for slow tasks whose period
		// exceeds half the timer range, where false overrun recognitions
		// are expected and the snap would introduce a true timing error.
		OverrunSnap bool

		// Idle is the idle body. It may freely return; the kernel re-enters
		// it whenever no task is ready. **Defaults to runtime.Gosched.** The idle
		// body must never call WaitForEvent (it has no TaskContext, so the
		// API makes this unrepresentable), but it may post events.
		Idle func()

		// Tick, if set, is started by Run and drives Kernel.Tick. Leave nil
		// when an external collaborator calls Kernel.Tick directly.
		Tick TickSource

		// OnStart is invoked by Run after the kernel state is ready and the
		// tick source is running. Use it to configure the hardware or
		// signal sources behind the application interrupts.
		OnStart func()

		// Logger receives structured kernel diagnostics. Nil disables
		// logging.
		Logger *logiface.Logger[logiface.Event]
	}

	// Kernel is a preemptive priority scheduler over a fixed task set,
	// clocked by an external periodic tick. Instances must be created with
	// NewKernel; the struct is the single owner of all scheduler state,
	// mediated by an interrupts-disabled critical section.
	Kernel[T Time, C Count] struct {
		// Prevent copying
		_ [0]func()

		// mu models the CPU's global interrupt flag: every mutation of the
		// scheduler state happens with it held, and holding it keeps ticks
		// and posts out. It is deliberately a single coarse lock; per-field
		// locking has no meaning on a single-core model.
		mu sync.Mutex

		cls        classifier
		roundRobin bool
		snap       bool
		applIRQs   int

		// time is the cyclic system time, advanced by Tick. It starts one
		// below zero so that the very first tick handler invocation
		// observes zero.
		time T

		// tasks holds the descriptors, one per task plus the idle task in
		// the last slot. The idle task has no entry and no stack image; it
		// runs whenever no ready class has a candidate.
		tasks []*task[T, C]

		// ready holds, per priority class, the due tasks in scheduling
		// order. The running task stays at the head of its class; position
		// 0 of the highest nonempty class is always the task owning the
		// CPU (or the idle task if every class is empty).
		ready [][]*task[T, C]

		// suspended holds the waiting tasks. With semaphores or mutexes
		// configured it is kept sorted by decreasing priority, FIFO within
		// a class, so that a single forward walk resolves delivery
		// tie-breaks.
		suspended []*task[T, C]

		current  *task[T, C]
		outgoing *task[T, C]

		// sem holds the free units per semaphore bit, and mutexFree the
		// availability bitmap of the mutex bits (1 = free).
		sem       []C
		mutexFree EventMask

		idle    func()
		tick    TickSource
		onStart func()
		log     *logiface.Logger[logiface.Event]

		running bool
		stopped bool
		done    chan struct{}
	}
)

// NewKernel validates the configuration and builds the kernel state. Tasks
// are configured afterwards with InitializeTask, then Run starts scheduling.
func NewKernel[T Time, C Count](cfg *Config[T, C]) (*Kernel[T, C], error) {
	if cfg == nil {
		return nil, fmt.Errorf(`rtkernel: nil config`)
	}
	if cfg.NumTasks < 0 || cfg.NumTasks > 127 {
		return nil, fmt.Errorf(`rtkernel: number of tasks %d out of range [0,127]`, cfg.NumTasks)
	}
	if cfg.NumPrioClasses < 1 || (cfg.NumTasks > 0 && cfg.NumPrioClasses > cfg.NumTasks) {
		return nil, fmt.Errorf(`rtkernel: number of priority classes %d out of range [1,%d]`, cfg.NumPrioClasses, cfg.NumTasks)
	}
	maxPerClass := cfg.MaxTasksPerPrioClass
	if maxPerClass == 0 {
		maxPerClass = cfg.NumTasks
	}
	if cfg.NumTasks > 0 && (maxPerClass < 1 || maxPerClass > cfg.NumTasks) {
		return nil, fmt.Errorf(`rtkernel: tasks per priority class %d out of range [1,%d]`, maxPerClass, cfg.NumTasks)
	}
	if cfg.NumSemaphores < 0 || cfg.NumSemaphores > 8 {
		return nil, fmt.Errorf(`rtkernel: number of semaphores %d out of range [0,8]`, cfg.NumSemaphores)
	}
	if cfg.ApplInterrupts < 0 || cfg.ApplInterrupts > 2 {
		return nil, fmt.Errorf(`rtkernel: number of application interrupts %d out of range [0,2]`, cfg.ApplInterrupts)
	}
	if cfg.NumMutexes < 0 || cfg.NumSemaphores+cfg.NumMutexes > 14-cfg.ApplInterrupts {
		return nil, fmt.Errorf(`rtkernel: %d semaphores + %d mutexes exceed the %d available event bits`,
			cfg.NumSemaphores, cfg.NumMutexes, 14-cfg.ApplInterrupts)
	}
	if len(cfg.SemaphoreInitialValues) != cfg.NumSemaphores {
		return nil, fmt.Errorf(`rtkernel: got %d semaphore initial values, need %d`,
			len(cfg.SemaphoreInitialValues), cfg.NumSemaphores)
	}

	k := &Kernel[T, C]{
		cls:        newClassifier(cfg.NumSemaphores, cfg.NumMutexes),
		roundRobin: cfg.RoundRobin,
		snap:       cfg.OverrunSnap,
		applIRQs:   cfg.ApplInterrupts,
		time:       ^T(0),
		tasks:      make([]*task[T, C], cfg.NumTasks+1),
		ready:      make([][]*task[T, C], cfg.NumPrioClasses),
		suspended:  make([]*task[T, C], 0, cfg.NumTasks),
		sem:        append([]C(nil), cfg.SemaphoreInitialValues...),
		idle:       cfg.Idle,
		tick:       cfg.Tick,
		onStart:    cfg.OnStart,
		log:        cfg.Logger,
		done:       make(chan struct{}),
	}
	k.mutexFree = k.cls.mtxBits
	for i := range k.tasks {
		k.tasks[i] = &task[T, C]{idx: i, gate: sync.NewCond(&k.mu)}
	}
	for i := range k.ready {
		k.ready[i] = make([]*task[T, C], 0, maxPerClass)
	}
	if k.idle == nil {
		k.idle = runtime.Gosched
	}
	k.current = k.idleTask()
	k.outgoing = k.idleTask()
	return k, nil
}

func (k *Kernel[T, C]) numTasks() int { return len(k.tasks) - 1 }

// idleTask returns the descriptor in the last slot. It has no entry and no
// stack image; its accumulated event set stays zero so that switch-in never
// injects into it.
func (k *Kernel[T, C]) idleTask() *task[T, C] { return k.tasks[len(k.tasks)-1] }

// EventKind classifies the given event bit under this kernel's
// configuration.
func (k *Kernel[T, C]) EventKind(bit int) EventKind { return k.cls.kind(bit) }

// SemaphoreEvent returns the event mask of semaphore i.
func (k *Kernel[T, C]) SemaphoreEvent(i int) EventMask {
	if m := Evt(i); m&k.cls.semBits != 0 {
		return m
	}
	panic(fmt.Sprintf(`rtkernel: no semaphore %d configured`, i))
}

// MutexEvent returns the event mask of mutex i (counted from zero, above
// the semaphore bits).
func (k *Kernel[T, C]) MutexEvent(i int) EventMask {
	if m := Evt(i + len(k.sem)); m&k.cls.mtxBits != 0 {
		return m
	}
	panic(fmt.Sprintf(`rtkernel: no mutex %d configured`, i))
}

// Run boots the kernel and enters the idle loop. Boot primes every task
// stack, places every task on the suspended list with its start condition,
// starts the configured tick source, and invokes the OnStart hook. Run
// blocks until ctx is done, then stops the tick source, releases all parked
// task goroutines, and returns.
//
// All tasks must have been configured via InitializeTask.
func (k *Kernel[T, C]) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return ErrTerminated
	}
	if k.running {
		k.mu.Unlock()
		return ErrAlreadyRunning
	}
	for _, t := range k.tasks[:k.numTasks()] {
		if !t.initialized {
			k.mu.Unlock()
			return fmt.Errorf(`%w: index %d`, ErrTaskNotInitialized, t.idx)
		}
	}

	for _, t := range k.tasks[:k.numTasks()] {
		k.prepareStack(t)
		t.posted = 0
		t.overruns = 0
		t.rrCounter = 0
		k.insertSuspended(t)
	}
	k.current = k.idleTask()
	k.outgoing = k.idleTask()
	k.running = true
	k.mu.Unlock()

	k.logBoot()

	if k.tick != nil {
		if err := k.tick.Start(k.Tick); err != nil {
			k.shutdown()
			return fmt.Errorf(`rtkernel: starting tick source: %w`, err)
		}
	}
	if k.onStart != nil {
		k.onStart()
	}

	stop := context.AfterFunc(ctx, k.shutdown)
	defer stop()

	// From here on this goroutine is the idle task. The idle body returns
	// freely; the kernel re-enters it for as long as the idle task owns the
	// CPU.
	idle := k.idleTask()
	for {
		k.mu.Lock()
		for k.current != idle && !k.stopped {
			idle.gate.Wait()
		}
		if k.stopped {
			k.mu.Unlock()
			<-k.done
			return ctx.Err()
		}
		k.mu.Unlock()
		k.idle()
	}
}

// shutdown stops the tick source and releases every parked task goroutine.
// Safe to call more than once.
func (k *Kernel[T, C]) shutdown() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	k.stopped = true
	k.running = false
	for _, t := range k.tasks {
		t.gate.Broadcast()
	}
	k.mu.Unlock()
	if k.tick != nil {
		_ = k.tick.Stop()
	}
	close(k.done)
}
