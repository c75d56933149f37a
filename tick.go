package rtkernel

// Tick is the kernel's clock: the periodic tick interrupt calls it once per
// period. Each call cyclically increments the system time by one, serves the
// timers of all suspended tasks, applies round-robin accounting to the
// running task, and, if any of that changed the ready set, reselects and
// switches to the new owner of the CPU.
//
// The unit of time is defined solely by the caller and does not matter to
// the kernel; the tick does not even need to be regular. Use a [TickSource]
// in [Config] for a wall-clock driven kernel, or call Tick directly from an
// external clock.
func (k *Kernel[T, C]) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}

	k.time++

	mayChange := false

	// Serve the timers of every suspended task. A task that becomes due is
	// moved out in place, so the index only advances when the task stays.
	for i := 0; i < len(k.suspended); {
		t := k.suspended[i]
		before := t.posted

		// The absolute timer fires on exact equality. Setting the event
		// while it is already set cannot happen: the event is never part of
		// an AND combination, so its arrival immediately makes the task
		// due.
		if k.time == t.dueAt {
			t.posted |= EvtAbsoluteTimer & t.waitMask
		}

		// The delay counter is usually zero; one decrement per tick
		// otherwise.
		if t.delayTicks != 0 {
			t.delayTicks--
			if t.delayTicks == 0 {
				t.posted |= EvtDelayTimer & t.waitMask
			}
		}

		if before != t.posted && k.checkActivation(i) {
			mayChange = true
		} else {
			i++
		}
	}

	// Round-robin applies only to the running task. It can lose the CPU
	// here, but stays ready: on slice expiry it is rotated to the tail of
	// its class and the next task of the class advances to the head.
	if k.roundRobin && k.current.rrCounter != 0 {
		k.current.rrCounter--
		if k.current.rrCounter == 0 {
			k.current.rrCounter = k.current.rrReload
			cls := k.ready[k.current.prioClass]
			if len(cls) > 1 {
				copy(cls, cls[1:])
				cls[len(cls)-1] = k.current
				mayChange = true
			}
		}
	}

	if mayChange && k.selectActive() {
		k.switchContext(false)
	}
}

type (
	// TickSource produces the periodic tick that clocks a kernel. Start is
	// called by Run with the kernel's tick entry; implementations call it
	// once per period from a dedicated goroutine until Stop.
	TickSource interface {
		Start(tick func()) error
		Stop() error
	}
)
