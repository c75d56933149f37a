package rtkernel

// WaitForEvent suspends the calling task until a combination of events
// occurs, and returns the set of events that actually caused the resume.
//
// With all false the task resumes on the first event of the mask; with all
// true it resumes once every non-timer event of the mask arrived, or any
// requested timer fired, whichever is first. The returned bitmap lets the
// caller tell "got my event" from "timed out" from "both at once".
//
// The timeout refers to whichever timer event the mask requests. For the
// delay timer it is the number of ticks from now, as a minimum: the call is
// not synchronized with the clock, so the actual delay is timeout..timeout+1
// ticks, and even zero suspends for up to one tick, giving peers of the same
// priority class a chance to run. For the absolute timer it is the delta
// added to the task's previous due time, keeping a regular task on its time
// grid; a result at or behind the current time counts as a recognized
// overrun. At most one of the two timer events may be requested.
//
// If the wait condition is already satisfied by free mutexes and semaphore
// units, those are acquired and the call returns immediately, without
// suspension or context switch.
func (tc *TaskContext[T, C]) WaitForEvent(mask EventMask, all bool, timeout T) EventMask {
	k := tc.k
	t := tc.t
	if err := checkWaitCondition(mask, all); err != nil {
		panic(err)
	}

	k.enterKernel(t)

	if k.cls.syncObjects() && k.acquireFreeSyncObjs(t, mask, all) {
		cause := t.posted
		t.posted = 0
		k.mu.Unlock()
		return cause
	}

	k.removeReadyHead(t)
	k.storeResumeCondition(t, mask, all, timeout)
	k.insertSuspended(t)
	k.outgoing = t

	// The head of the highest nonempty ready class takes over; idle is the
	// fallback when nothing is due anymore.
	k.current = k.idleTask()
	for cls := len(k.ready) - 1; cls >= 0; cls-- {
		if len(k.ready[cls]) > 0 {
			k.current = k.ready[cls][0]
			break
		}
	}
	k.switchContext(true)

	k.awaitCPU(t)
	cause := t.resumeCause
	t.resumeCause = 0
	k.mu.Unlock()
	return cause
}

// Delay suspends the calling task for the given number of ticks. It is
// shorthand for waiting on nothing but the delay timer. A timeout of zero
// yields the CPU for up to one tick.
func (tc *TaskContext[T, C]) Delay(timeout T) EventMask {
	return tc.WaitForEvent(EvtDelayTimer, false, timeout)
}

// SuspendTillTime suspends the calling task until the absolute time that
// lies delta ticks after the task's previous absolute due time. This is the
// primitive for regular tasks: the activation grid does not drift with
// execution or scheduling jitter. The permitted range of delta is 1 up to
// half the range of the time type; beyond that, proper timing cannot be
// guaranteed.
func (tc *TaskContext[T, C]) SuspendTillTime(delta T) EventMask {
	return tc.WaitForEvent(EvtAbsoluteTimer, false, delta)
}

// acquireFreeSyncObjs locks every requested mutex that is currently free
// and consumes a unit of every requested semaphore with a nonzero counter,
// crediting the acquired bits to the task. Reports whether that alone
// satisfies the wait condition, in which case the task will not suspend.
// The timer bits never matter here: they are always OR terms, so there is
// no need to wait for them once everything else is owned.
func (k *Kernel[T, C]) acquireFreeSyncObjs(t *task[T, C], mask EventMask, all bool) bool {
	t.posted = mask & k.mutexFree
	k.mutexFree &^= mask & k.cls.mtxBits

	for sem := mask & k.cls.semBits; sem != 0; sem &= sem - 1 {
		bit := sem & -sem
		if idx := bitIndex(bit); k.sem[idx] > 0 {
			k.sem[idx]--
			t.posted |= bit
		}
	}

	return (!all && t.posted != 0) ||
		(all && (t.posted^mask)&^evtTimerMask == 0)
}

// storeResumeCondition records a task's wait condition and arms the
// requested timer. It is shared between the wait path and the one-time
// start condition of task initialization.
func (k *Kernel[T, C]) storeResumeCondition(t *task[T, C], mask EventMask, all bool, timeout T) {
	if mask&EvtAbsoluteTimer != 0 {
		// The next due time advances relative to the previous one. If it
		// does not land in the future the task missed its cycle: count the
		// overrun and, when configured, compress the missed cycle into a
		// single tick by making the task due immediately.
		t.dueAt += timeout
		if notInFuture(t.dueAt, k.time) {
			if t.overruns < 0xff {
				t.overruns++
			}
			k.logOverrun(t)
			if k.snap {
				t.dueAt = k.time + 1
			}
		}
	} else {
		// The delay is a minimum; the extra tick absorbs the phase between
		// the call and the next tick. At the numeric edge, where the
		// increment would wrap the counter to zero, the timeout stays as
		// is and the rendezvous is effectively the next tick.
		if timeout+1 != 0 {
			timeout++
		}
		t.delayTicks = timeout
	}

	t.waitMask = mask
	t.waitAll = all
}
