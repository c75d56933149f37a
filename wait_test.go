package rtkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForEvent_validation(t *testing.T) {
	k, err := NewKernel(&Config[uint16, uint8]{NumTasks: 1, NumPrioClasses: 1})
	require.NoError(t, err)
	rec := make(chan string, 16)
	require.NoError(t, k.InitializeTask(0, TaskConfig[uint16, uint8]{
		Entry: func(tc *TaskContext[uint16, uint8], resume EventMask) {
			for _, bad := range []struct {
				mask EventMask
				all  bool
			}{
				{0, false},
				{evtTimerMask, false},
				{Evt(3) | evtTimerMask, false},
				{EvtDelayTimer, true},
				{EvtAbsoluteTimer, true},
			} {
				func() {
					defer func() {
						if r := recover(); r != nil {
							rec <- `panic`
						}
					}()
					tc.WaitForEvent(bad.mask, bad.all, 0)
					rec <- `no panic`
				}()
			}
			rec <- `done`
			for {
				tc.WaitForEvent(Evt(3), false, 0)
			}
		},
		StackSize: 128, StartMask: EvtDelayTimer,
	}))
	startKernel(t, k)

	k.Tick()
	for i := 0; i < 5; i++ {
		expect(t, rec, `panic`)
	}
	expect(t, rec, `done`)
}

func TestStoreResumeCondition_delayEdge(t *testing.T) {
	k, err := NewKernel(&Config[uint8, uint8]{NumTasks: 1, NumPrioClasses: 1})
	require.NoError(t, err)
	tk := k.tasks[0]

	for _, tc := range []struct {
		timeout uint8
		want    uint8
	}{
		{0, 1},
		{10, 11},
		{254, 255},
		// The numeric edge: incrementing would wrap the counter to zero
		// and disarm the timer; the timeout stays as is instead.
		{255, 255},
	} {
		k.storeResumeCondition(tk, EvtDelayTimer, false, tc.timeout)
		assert.Equal(t, tc.want, tk.delayTicks, `timeout %d`, tc.timeout)
	}
	assert.Equal(t, EvtDelayTimer, tk.waitMask)
	assert.False(t, tk.waitAll)
}

func TestStoreResumeCondition_overrunSaturation(t *testing.T) {
	k, err := NewKernel(&Config[uint8, uint8]{NumTasks: 1, NumPrioClasses: 1, OverrunSnap: true})
	require.NoError(t, err)
	tk := k.tasks[0]
	k.time = 100
	tk.dueAt = 90
	tk.overruns = 0xfe

	// 90+5 lands behind the clock: an overrun, counted and snapped.
	k.storeResumeCondition(tk, EvtAbsoluteTimer, false, 5)
	assert.Equal(t, uint8(0xff), tk.overruns)
	assert.Equal(t, uint8(101), tk.dueAt)

	// The counter saturates rather than cycling.
	tk.dueAt = 90
	k.storeResumeCondition(tk, EvtAbsoluteTimer, false, 5)
	assert.Equal(t, uint8(0xff), tk.overruns)
}

func TestWaitForEvent_allWithTimeoutMix(t *testing.T) {
	// All-semantics over two broadcast bits with a delay timeout: the
	// resume happens either on completion or on the timer, and the cause
	// says which.
	k, err := NewKernel(&Config[uint16, uint8]{NumTasks: 1, NumPrioClasses: 1})
	require.NoError(t, err)
	rec := make(chan string, 16)
	require.NoError(t, k.InitializeTask(0, TaskConfig[uint16, uint8]{
		Entry: func(tc *TaskContext[uint16, uint8], resume EventMask) {
			for {
				cause := tc.WaitForEvent(Evt(3)|Evt(4)|EvtDelayTimer, true, 10)
				rec <- `woke:` + cause.String()
			}
		},
		StackSize: 128, StartMask: EvtDelayTimer,
	}))
	startKernel(t, k)

	k.Tick()
	awaitSuspended(t, k, 0)

	// One of two events does not resume.
	k.PostEvent(Evt(3))
	expectNone(t, rec)
	require.True(t, isSuspended(k, 0))

	// The second completes the set.
	k.PostEvent(Evt(4))
	expect(t, rec, `woke:0x0018`)
	awaitSuspended(t, k, 0)

	// Or the timeout fires first, reporting only the timer plus whatever
	// arrived.
	k.PostEvent(Evt(3))
	for i := 0; i < 11; i++ {
		require.True(t, isSuspended(k, 0))
		k.Tick()
	}
	expect(t, rec, `woke:0x8008`)
}

func TestWaitForEvent_immediateAcquisition(t *testing.T) {
	k, err := NewKernel(&Config[uint16, uint8]{
		NumTasks: 1, NumPrioClasses: 1,
		NumSemaphores: 1, NumMutexes: 1,
		SemaphoreInitialValues: []uint8{2},
	})
	require.NoError(t, err)
	sem, mtx := k.SemaphoreEvent(0), k.MutexEvent(0)
	rec := make(chan string, 16)
	require.NoError(t, k.InitializeTask(0, TaskConfig[uint16, uint8]{
		Entry: func(tc *TaskContext[uint16, uint8], resume EventMask) {
			// Both free: no suspension, and the all-condition is met
			// without the timer.
			cause := tc.WaitForEvent(sem|mtx|EvtDelayTimer, true, 100)
			rec <- `both:` + cause.String()
			// One semaphore unit left.
			cause = tc.WaitForEvent(sem, false, 0)
			rec <- `sem:` + cause.String()
			// Pool empty now: this one suspends until the timeout.
			cause = tc.WaitForEvent(sem|EvtDelayTimer, false, 3)
			rec <- `timeout:` + cause.String()
			for {
				tc.WaitForEvent(Evt(5), false, 0)
			}
		},
		StackSize: 128, StartMask: EvtDelayTimer,
	}))
	startKernel(t, k)

	k.Tick()
	expect(t, rec, `both:`+(sem|mtx).String())
	expect(t, rec, `sem:`+sem.String())
	awaitSuspended(t, k, 0)

	k.mu.Lock()
	assert.Equal(t, uint8(0), k.sem[0])
	assert.Zero(t, k.mutexFree&mtx)
	k.mu.Unlock()

	for i := 0; i < 4; i++ {
		k.Tick()
	}
	expect(t, rec, `timeout:`+EvtDelayTimer.String())
}

func TestCriticalSection_blocksTick(t *testing.T) {
	k, err := NewKernel(&Config[uint16, uint8]{NumPrioClasses: 1})
	require.NoError(t, err)
	startKernel(t, k)

	k.Tick()
	k.EnterCriticalSection()
	before := k.time

	ticked := make(chan struct{})
	go func() {
		k.Tick()
		close(ticked)
	}()

	// The tick stalls at the kernel boundary for as long as the section is
	// open.
	select {
	case <-ticked:
		t.Fatal(`tick ran inside a critical section`)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, before, k.time)
	k.LeaveCriticalSection()

	select {
	case <-ticked:
	case <-time.After(testTimeout):
		t.Fatal(`tick did not resume`)
	}
	assert.Equal(t, before+1, k.Time())
}

func TestTaskContext_accessors(t *testing.T) {
	k, err := NewKernel(&Config[uint16, uint8]{NumTasks: 1, NumPrioClasses: 1})
	require.NoError(t, err)
	rec := make(chan string, 16)
	require.NoError(t, k.InitializeTask(0, TaskConfig[uint16, uint8]{
		Entry: func(tc *TaskContext[uint16, uint8], resume EventMask) {
			if tc.Index() == 0 && tc.Kernel() == k && resume == EvtDelayTimer {
				rec <- `ok`
			} else {
				rec <- `bad`
			}
			for {
				tc.WaitForEvent(Evt(5), false, 0)
			}
		},
		StackSize: 128, StartMask: EvtDelayTimer,
	}))
	startKernel(t, k)
	k.Tick()
	expect(t, rec, `ok`)
}

func TestTaskCriticalSection_mutualExclusion(t *testing.T) {
	// Two tasks increment a shared counter under the task-side critical
	// section; the bracketed read-modify-write is never torn by the peer.
	k, err := NewKernel(&Config[uint16, uint8]{NumTasks: 2, NumPrioClasses: 1})
	require.NoError(t, err)
	shared := 0
	rec := make(chan string, 64)
	worker := func(name string) TaskFunc[uint16, uint8] {
		return func(tc *TaskContext[uint16, uint8], resume EventMask) {
			for {
				tc.EnterCriticalSection()
				v := shared
				shared = v + 1
				tc.LeaveCriticalSection()
				rec <- name
				tc.Delay(0)
			}
		}
	}
	require.NoError(t, k.InitializeTask(0, TaskConfig[uint16, uint8]{
		Entry: worker(`A`), StackSize: 128, StartMask: EvtDelayTimer,
	}))
	require.NoError(t, k.InitializeTask(1, TaskConfig[uint16, uint8]{
		Entry: worker(`B`), StackSize: 128, StartMask: EvtDelayTimer,
	}))
	startKernel(t, k)

	for i := 0; i < 5; i++ {
		k.Tick()
		expect(t, rec, `A`)
		expect(t, rec, `B`)
		awaitAllParked(t, k)
	}
	k.EnterCriticalSection()
	assert.Equal(t, 10, shared)
	k.LeaveCriticalSection()
}
