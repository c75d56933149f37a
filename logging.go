package rtkernel

// Structured logging for kernel diagnostics, through the logiface facade.
// The logger is optional; every helper tolerates a nil logger, and the
// builders below are nil-safe, so disabled levels cost a single branch on
// the hot paths.

func (k *Kernel[T, C]) logBoot() {
	if k.log == nil {
		return
	}
	k.log.Notice().
		Int(`tasks`, k.numTasks()).
		Int(`prioClasses`, len(k.ready)).
		Int(`semaphores`, len(k.sem)).
		Int(`mutexes`, len(k.cls.mtxBits.Bits())).
		Bool(`roundRobin`, k.roundRobin).
		Log(`kernel started`)
}

func (k *Kernel[T, C]) logPost(mask EventMask) {
	if k.log == nil {
		return
	}
	k.log.Trace().
		Stringer(`mask`, mask).
		Log(`events posted`)
}

func (k *Kernel[T, C]) logSwitch(out, in *task[T, C]) {
	if k.log == nil {
		return
	}
	k.log.Trace().
		Int(`out`, out.idx).
		Int(`in`, in.idx).
		Log(`task switch`)
}

func (k *Kernel[T, C]) logOverrun(t *task[T, C]) {
	if k.log == nil {
		return
	}
	k.log.Warning().
		Int(`task`, t.idx).
		Int(`overruns`, int(t.overruns)).
		Log(`task overrun recognized`)
}
