package reactor

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// readBufferSize is the fixed size of the buffer a read event fills.
const readBufferSize = 2048

// Callback is the capability set the application installs on a TCP to
// receive its events. All three methods are invoked on the reactor
// goroutine.
type Callback interface {
	OnConnect()
	OnDisconnect(cause error)
	OnReceive(buf []byte)
}

// TCP is a non-blocking TCP connection managed by a Reactor. Outgoing data
// is queued and flushed on write readiness, so Send never blocks and may
// be called before the connection is even established. A TCP constructed
// through the SOCKS4a variant behaves identically towards the application;
// the handshake happens underneath and OnConnect fires once it succeeded.
type TCP struct {
	baseHandle

	// Callback receives the connection's events. It may be replaced
	// exactly once, by the SOCKS handshake handing over to the
	// application, and only on the reactor goroutine.
	Callback Callback

	queue     sendQueue
	connected bool

	// inSocksHandshake freezes the outbound queue: while set, WRITE is
	// never subscribed and nothing queued reaches the socket, so
	// handshake bytes and application bytes cannot interleave.
	inSocksHandshake bool
}

// newAdoptedTCP wraps an already-connected descriptor coming out of a
// Listener. It subscribes READ immediately; no OnConnect is fired, the
// acceptor installs the callback on the handle it receives.
func newAdoptedTCP(r *Reactor, fd int) (*TCP, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, newNetError("setnonblock", "", err)
	}
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	t := &TCP{
		baseHandle: baseHandle{reactor: r, fd: fd},
		connected:  true,
	}
	r.add(t)
	if err := t.register(EventRead); err != nil {
		r.closeHandle(t, err)
		return nil, err
	}
	return t, nil
}

// NewOutgoingTCP opens a direct outgoing connection. It returns without
// blocking; the callback's OnConnect or OnDisconnect reports the outcome.
// Sending is allowed immediately, data is queued until the connect
// completes.
func NewOutgoingTCP(r *Reactor, host string, port uint16, cb Callback) (*TCP, error) {
	t, err := newOutgoingSocket(r, cb)
	if err != nil {
		return nil, err
	}
	t.connect(host, port)
	return t, nil
}

// NewOutgoingTCPViaSocks opens an outgoing connection through a SOCKS4a
// proxy. The proxy resolves the destination host name, which is what keeps
// onion addresses out of any local resolver. Towards the application this
// behaves exactly like NewOutgoingTCP: queued sends are held back until
// the handshake has succeeded and OnConnect has fired.
func NewOutgoingTCPViaSocks(r *Reactor, host string, port uint16, cb Callback,
	proxyHost string, proxyPort uint16, proxyUser string) (*TCP, error) {

	t, err := newOutgoingSocket(r, nil)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewOutgoingTCPViaSocks",
		"host":       host,
		"port":       port,
		"proxy_host": proxyHost,
		"proxy_port": proxyPort,
	}).Debug("Connecting through socks4a proxy")

	// the handler replaces itself with the application callback once the
	// proxy grants the connection
	t.Callback = &socks4aHandler{
		tcp:         t,
		host:        host,
		port:        port,
		user:        proxyUser,
		application: cb,
	}
	t.inSocksHandshake = true
	t.connect(proxyHost, proxyPort)
	return t, nil
}

func newOutgoingSocket(r *Reactor, cb Callback) (*TCP, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, newNetError("socket", "", err)
	}
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	t := &TCP{
		baseHandle: baseHandle{reactor: r, fd: fd},
		Callback:   cb,
	}
	r.add(t)
	return t, nil
}

// connect initiates the non-blocking connect. Loopback connects may
// succeed synchronously, in which case there will be no readiness event
// later and doEventConnect is synthesized right here. Failures are
// reported through the callback, never as a return value, so both
// outcomes reach the application the same way.
func (t *TCP) connect(host string, port uint16) {
	ip := net.ParseIP(host)
	var ip4 net.IP
	if ip != nil {
		ip4 = ip.To4()
	}
	if ip4 == nil {
		// name resolution is the proxy's job; a direct connect target
		// must already be a numeric IPv4 address
		t.reactor.closeHandle(t, newNetError("connect", host, errors.New("not an IPv4 address")))
		return
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip4)

	err := unix.Connect(t.fd, sa)
	switch {
	case err == nil:
		if cerr := t.doEventConnect(); cerr != nil {
			t.reactor.closeHandle(t, cerr)
		}
	case err == unix.EINPROGRESS:
		if rerr := t.register(EventConnect); rerr != nil {
			t.reactor.closeHandle(t, rerr)
		}
	default:
		t.reactor.closeHandle(t, newNetError("connect", host, err))
	}
}

// Send queues buf for asynchronous transmission, preserving the order of
// Send calls. It never blocks and is safe from any goroutine, before or
// after the connection is established. The TCP takes ownership of buf.
func (t *TCP) Send(buf []byte) {
	t.queue.push(buf)
	// interest changes belong to the reactor goroutine; routing through
	// InvokeLater also wakes the multiplexer, so a mid-cycle enqueue is
	// picked up now and not at the next unrelated event
	t.reactor.InvokeLater(t.updateWriteInterest)
}

// updateWriteInterest reconciles the WRITE subscription with the queue
// state: subscribed iff there is queued data, the socket is connected and
// no SOCKS handshake is in progress.
func (t *TCP) updateWriteInterest() {
	if t.isClosed() || !t.isConnected() || t.inSocksHandshake {
		return
	}
	events := EventRead
	if !t.queue.empty() {
		events |= EventWrite
	}
	if err := t.register(events); err != nil {
		t.reactor.closeHandle(t, err)
	}
}

// Close tears the connection down and reports cause through OnDisconnect,
// exactly once. Reactor goroutine only; other goroutines route a close
// through InvokeLater.
func (t *TCP) Close(cause error) {
	t.reactor.closeHandle(t, cause)
}

// doEventConnect fires when the in-progress connect resolved, and a second
// time when a SOCKS handshake completes. The first run verifies the
// connect actually succeeded; the second run is what finally subscribes
// WRITE for data the application queued during the handshake.
func (t *TCP) doEventConnect() error {
	if !t.isConnected() {
		soerr, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return newNetError("getsockopt", "", err)
		}
		if soerr != 0 {
			return newNetError("connect", "", unix.Errno(soerr))
		}
		t.setConnected()
	}

	events := EventRead
	if !t.queue.empty() && !t.inSocksHandshake {
		events |= EventWrite
	}
	if err := t.register(events); err != nil {
		return err
	}

	if t.Callback != nil {
		t.Callback.OnConnect()
	}
	return nil
}

// doEventRead reads once into a fresh fixed-size buffer and hands the
// filled slice to the callback. EOF is fatal and surfaces as
// ErrClosedByRemote through the close path.
func (t *TCP) doEventRead() error {
	buf := make([]byte, readBufferSize)
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return newNetError("read", "", err)
	}
	if n == 0 {
		return ErrClosedByRemote
	}
	if t.Callback != nil {
		t.Callback.OnReceive(buf[:n])
	}
	return nil
}

// doEventWrite drains as many queued buffers as the socket accepts. A
// partial write means congestion: stop for this event, the next write
// readiness continues from the head buffer's advanced position. An empty
// queue drops the WRITE subscription.
func (t *TCP) doEventWrite() error {
	for {
		if t.queue.empty() {
			return t.register(EventRead)
		}
		head := t.queue.head()

		n, err := unix.Write(t.fd, head)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return newNetError("write", "", err)
		}
		t.queue.advance(n)
		if n < len(head) {
			return nil
		}
	}
}

func (t *TCP) doEventClose(cause error) {
	t.queue.clear()
	if t.Callback != nil {
		t.Callback.OnDisconnect(cause)
	}
}

// sendNow writes buf synchronously, bypassing the queue. Only the SOCKS
// handshake uses this: its request must reach the proxy as one contiguous
// run before anything the application may already have queued. The busy
// loop is tolerable because the request is a few dozen bytes on a socket
// that has just been established.
func (t *TCP) sendNow(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(t.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return newNetError("write", "", err)
		}
		buf = buf[n:]
	}
	return nil
}

// connected may be decided on the constructor's goroutine while a Send
// from another goroutine is already scheduling interest updates, so it
// shares the registration state's lock.
func (t *TCP) isConnected() bool {
	t.reactor.mu.Lock()
	defer t.reactor.mu.Unlock()
	return t.connected
}

func (t *TCP) setConnected() {
	t.reactor.mu.Lock()
	t.connected = true
	t.reactor.mu.Unlock()
}

// sendQueue is the FIFO of unsent buffers. Push happens from any
// goroutine, head/advance only from the reactor goroutine; the head
// buffer's consumed prefix is trimmed in place so its position only ever
// moves forward.
type sendQueue struct {
	mu   sync.Mutex
	bufs [][]byte
}

func (q *sendQueue) push(buf []byte) {
	q.mu.Lock()
	q.bufs = append(q.bufs, buf)
	q.mu.Unlock()
}

func (q *sendQueue) head() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	return q.bufs[0]
}

func (q *sendQueue) advance(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return
	}
	if n >= len(q.bufs[0]) {
		q.bufs = q.bufs[1:]
	} else {
		q.bufs[0] = q.bufs[0][n:]
	}
}

func (q *sendQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs) == 0
}

func (q *sendQueue) clear() {
	q.mu.Lock()
	q.bufs = nil
	q.mu.Unlock()
}

