package rtkernel

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// TimerfdTickSource clocks a kernel from a timerfd, which keeps the period
// stable against goroutine scheduling jitter: missed expirations are
// reported by the kernel and delivered as individual ticks, so the cyclic
// system time never silently loses a beat.
type TimerfdTickSource struct {
	period  time.Duration
	mu      sync.Mutex
	wakeW   int
	stopped chan struct{}
}

// NewTimerfdTickSource returns a timerfd-backed tick source firing once per
// period.
func NewTimerfdTickSource(period time.Duration) *TimerfdTickSource {
	if period <= 0 {
		panic(`rtkernel: tick period must be positive`)
	}
	return &TimerfdTickSource{period: period, wakeW: -1}
}

// Start creates the timerfd and begins delivering ticks from a dedicated
// goroutine. Expirations that pile up while a tick is being processed are
// drained as consecutive ticks. The delivery goroutine owns both file
// descriptors; Stop signals it through a wake pipe, so no descriptor is
// ever closed under a pending read.
func (s *TimerfdTickSource) Start(tick func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wakeW >= 0 {
		return errors.New(`rtkernel: tick source already started`)
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return err
	}
	ts := unix.NsecToTimespec(s.period.Nanoseconds())
	if err := unix.TimerfdSettime(fd, 0, &unix.ItimerSpec{Interval: ts, Value: ts}, nil); err != nil {
		_ = unix.Close(fd)
		return err
	}
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.wakeW = pipe[1]
	s.stopped = make(chan struct{})
	go func(stopped chan struct{}, timerFd, wakeR int) {
		defer func() {
			_ = unix.Close(timerFd)
			_ = unix.Close(wakeR)
			close(stopped)
		}()
		fds := []unix.PollFd{
			{Fd: int32(timerFd), Events: unix.POLLIN},
			{Fd: int32(wakeR), Events: unix.POLLIN},
		}
		var buf [8]byte
		for {
			fds[0].Revents, fds[1].Revents = 0, 0
			if _, err := unix.Poll(fds, -1); err != nil {
				if err == unix.EINTR {
					continue
				}
				return
			}
			if fds[1].Revents != 0 {
				return
			}
			if fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
				continue
			}
			n, err := unix.Read(timerFd, buf[:])
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			if err != nil || n != 8 {
				return
			}
			for expirations := binary.NativeEndian.Uint64(buf[:]); expirations > 0; expirations-- {
				tick()
			}
		}
	}(s.stopped, fd, pipe[0])
	return nil
}

// Stop ends tick delivery and waits for the delivery goroutine to release
// its descriptors.
func (s *TimerfdTickSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wakeW < 0 {
		return nil
	}
	_, _ = unix.Write(s.wakeW, []byte{0})
	<-s.stopped
	_ = unix.Close(s.wakeW)
	s.wakeW = -1
	s.stopped = nil
	return nil
}
