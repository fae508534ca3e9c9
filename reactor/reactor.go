package reactor

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Reactor multiplexes readiness events for a set of handles on a single
// goroutine. All event dispatch, message parsing and connection state
// live on that goroutine; other goroutines reach it only through
// InvokeLater and TCP.Send.
type Reactor struct {
	epollFD int
	wakeFD  int

	mu      sync.Mutex
	handles map[int]Handle

	tasksMu sync.Mutex
	tasks   []func()

	running atomic.Bool
}

// New creates a reactor with its epoll instance and eventfd wake channel.
func New() (*Reactor, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newNetError("epoll_create", "", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, newNetError("eventfd", "", err)
	}

	r := &Reactor{
		epollFD: epollFD,
		wakeFD:  wakeFD,
		handles: make(map[int]Handle),
	}

	evt := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, wakeFD, evt); err != nil {
		unix.Close(wakeFD)
		unix.Close(epollFD)
		return nil, newNetError("epoll_ctl", "", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"epoll_fd": epollFD,
	}).Debug("Reactor created")

	return r, nil
}

// Run blocks the calling goroutine and dispatches readiness events until
// Stop is called. Every handle still registered when the loop exits is
// closed with ErrReactorStopped.
func (r *Reactor) Run() error {
	r.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("Reactor running")

	events := make([]unix.EpollEvent, 128)
	for r.running.Load() {
		n, err := unix.EpollWait(r.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.shutdown()
			return newNetError("epoll_wait", "", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeFD {
				r.drainWake()
				continue
			}
			r.dispatch(fd, events[i].Events)
		}

		r.runTasks()
	}

	r.shutdown()
	return nil
}

// Running reports whether Run is currently looping.
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// Stop makes Run return at the next cycle. Safe from any goroutine.
func (r *Reactor) Stop() {
	r.running.Store(false)
	r.wake()
}

// InvokeLater enqueues a task to run on the reactor goroutine after the
// current dispatch cycle. Safe from any goroutine; the multiplexer is
// woken so the task never waits for an unrelated readiness event.
func (r *Reactor) InvokeLater(task func()) {
	r.tasksMu.Lock()
	r.tasks = append(r.tasks, task)
	r.tasksMu.Unlock()
	r.wake()
}

// dispatch maps one fd's readiness flags onto its handle's event methods.
// Order is fixed: accept, connect, read, write. Any error closes the
// handle and is fatal to that handle only.
func (r *Reactor) dispatch(fd int, mask uint32) {
	r.mu.Lock()
	h := r.handles[fd]
	r.mu.Unlock()
	if h == nil {
		return
	}

	// error conditions surface through the read or connect path, where
	// the socket reports the precise cause
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLOUT
	}

	if err := r.dispatchEvents(h, mask); err != nil {
		r.closeHandle(h, err)
	}
}

func (r *Reactor) dispatchEvents(h Handle, mask uint32) error {
	if mask&unix.EPOLLIN != 0 && h.subscribedEvents()&EventAccept != 0 {
		if err := h.doEventAccept(); err != nil {
			return err
		}
	}
	if mask&unix.EPOLLOUT != 0 && h.subscribedEvents()&EventConnect != 0 {
		if err := h.doEventConnect(); err != nil {
			return err
		}
	}
	if mask&unix.EPOLLIN != 0 && h.subscribedEvents()&EventRead != 0 {
		if err := h.doEventRead(); err != nil {
			return err
		}
	}
	if mask&unix.EPOLLOUT != 0 && h.subscribedEvents()&EventWrite != 0 {
		if err := h.doEventWrite(); err != nil {
			return err
		}
	}
	return nil
}

// add puts a handle into the registration table. Constructors call this
// before their first register.
func (r *Reactor) add(h Handle) {
	r.mu.Lock()
	r.handles[h.FD()] = h
	r.mu.Unlock()
}

// update tells the multiplexer the new event interest for fd.
func (r *Reactor) update(fd int, events Events, add bool) error {
	var mask uint32
	if events&(EventRead|EventAccept) != 0 {
		mask |= unix.EPOLLIN
	}
	if events&(EventWrite|EventConnect) != 0 {
		mask |= unix.EPOLLOUT
	}

	op := unix.EPOLL_CTL_MOD
	if add {
		op = unix.EPOLL_CTL_ADD
	}
	evt := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epollFD, op, fd, evt); err != nil {
		return newNetError("epoll_ctl", "", err)
	}
	return nil
}

// closeHandle is the single teardown path for every handle: unregister
// from the multiplexer, close the socket, deliver doEventClose exactly
// once. Reactor goroutine only; closure from elsewhere goes through
// InvokeLater.
func (r *Reactor) closeHandle(h Handle, cause error) {
	if !h.detach() {
		return
	}

	fd := h.FD()
	r.mu.Lock()
	delete(r.handles, fd)
	r.mu.Unlock()

	unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)

	logrus.WithFields(logrus.Fields{
		"function": "closeHandle",
		"fd":       fd,
		"cause":    cause,
	}).Debug("Handle closed")

	h.doEventClose(cause)
}

func (r *Reactor) runTasks() {
	r.tasksMu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.tasksMu.Unlock()

	for _, task := range tasks {
		task()
	}
}

func (r *Reactor) wake() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	unix.Write(r.wakeFD, one[:])
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFD, buf[:]); err != nil {
			return
		}
	}
}

// shutdown closes every still-registered handle, then the reactor's own
// descriptors. Leftover tasks run first so a Stop scheduled together with
// final work does not drop that work.
func (r *Reactor) shutdown() {
	r.runTasks()

	r.mu.Lock()
	remaining := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		remaining = append(remaining, h)
	}
	r.mu.Unlock()

	for _, h := range remaining {
		r.closeHandle(h, ErrReactorStopped)
	}

	// disconnect callbacks may have scheduled more work
	r.runTasks()

	unix.Close(r.wakeFD)
	unix.Close(r.epollFD)

	logrus.WithFields(logrus.Fields{
		"function": "shutdown",
		"closed":   len(remaining),
	}).Info("Reactor stopped")
}
