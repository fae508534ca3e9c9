package reactor

// Events is the bitset of readiness conditions a handle subscribes to.
type Events uint32

const (
	// EventRead requests dispatch of doEventRead on read readiness.
	EventRead Events = 1 << iota
	// EventWrite requests dispatch of doEventWrite on write readiness.
	EventWrite
	// EventConnect requests dispatch of doEventConnect when an in-progress
	// connect resolves.
	EventConnect
	// EventAccept requests dispatch of doEventAccept on a listening socket.
	EventAccept
)

// Handle is the contract between the reactor and anything registered with
// it: a non-blocking file descriptor plus the readiness event methods. The
// event methods run exclusively on the reactor goroutine; returning an
// error from any of them makes the reactor close the handle and deliver
// the error through doEventClose.
type Handle interface {
	// FD returns the underlying file descriptor. It doubles as the
	// registration token in the reactor's table.
	FD() int

	doEventAccept() error
	doEventConnect() error
	doEventRead() error
	doEventWrite() error

	// doEventClose is the single teardown notification. It fires at most
	// once, after the handle has been unregistered and its socket closed.
	doEventClose(cause error)

	subscribedEvents() Events

	// detach marks the handle closed and clears its event subscriptions.
	// It reports whether this was the first close, which is what keeps
	// doEventClose a once-only event.
	detach() bool
}

// baseHandle carries the state every Handle shares: the owning reactor
// (a non-owning back reference, the reactor owns the handle), the
// descriptor, the mirrored event subscription and the closed flag. It also
// supplies no-op defaults for the event methods so concrete handles only
// implement what they subscribe to.
type baseHandle struct {
	reactor *Reactor
	fd      int
	events  Events
	inEpoll bool
	closed  bool
}

func (h *baseHandle) FD() int { return h.fd }

// The registration state is guarded by the reactor's mutex: handles are
// constructed on arbitrary goroutines before their first event, and the
// reactor must observe a consistent bitset from the moment the descriptor
// enters the multiplexer.

func (h *baseHandle) subscribedEvents() Events {
	h.reactor.mu.Lock()
	defer h.reactor.mu.Unlock()
	return h.events
}

func (h *baseHandle) detach() bool {
	h.reactor.mu.Lock()
	defer h.reactor.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	h.events = 0
	return true
}

func (h *baseHandle) isClosed() bool {
	h.reactor.mu.Lock()
	defer h.reactor.mu.Unlock()
	return h.closed
}

// register is the one place the subscription bitset changes. It keeps the
// local mirror and the multiplexer in sync, in that order.
func (h *baseHandle) register(events Events) error {
	h.reactor.mu.Lock()
	h.events = events
	add := !h.inEpoll
	h.inEpoll = true
	h.reactor.mu.Unlock()
	return h.reactor.update(h.fd, events, add)
}

func (h *baseHandle) doEventAccept() error  { return nil }
func (h *baseHandle) doEventConnect() error { return nil }
func (h *baseHandle) doEventRead() error    { return nil }
func (h *baseHandle) doEventWrite() error   { return nil }
