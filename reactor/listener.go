package reactor

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Listener accepts inbound TCP connections and wraps each accepted socket
// in an adopted TCP handle. The accept callback runs on the reactor
// goroutine and is expected to install a Callback on the handle it
// receives before returning; events for the new handle cannot fire before
// that because dispatch happens on the same goroutine.
type Listener struct {
	baseHandle
	onAccept func(*TCP)
}

// NewListener binds host:port and starts accepting. host must be a numeric
// IPv4 address; the usual deployment binds loopback and lets the Tor
// hidden service forward to it.
func NewListener(r *Reactor, host string, port uint16, onAccept func(*TCP)) (*Listener, error) {
	ip := net.ParseIP(host)
	var ip4 net.IP
	if ip != nil {
		ip4 = ip.To4()
	}
	if ip4 == nil {
		return nil, newNetError("listen", host, errors.New("not an IPv4 address"))
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, newNetError("socket", "", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, newNetError("setsockopt", "", err)
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip4)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, newNetError("bind", host, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, newNetError("listen", host, err)
	}

	l := &Listener{
		baseHandle: baseHandle{reactor: r, fd: fd},
		onAccept:   onAccept,
	}
	r.add(l)
	if err := l.register(EventAccept); err != nil {
		r.closeHandle(l, err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewListener",
		"host":     host,
		"port":     port,
	}).Info("Listening for incoming connections")

	return l, nil
}

// Port returns the local port the listener is bound to. Useful when the
// configured port was 0 and the kernel picked one.
func (l *Listener) Port() uint16 {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return 0
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return uint16(sa4.Port)
	}
	return 0
}

// Close stops accepting. Reactor goroutine only.
func (l *Listener) Close(cause error) {
	l.reactor.closeHandle(l, cause)
}

// doEventAccept drains the accept backlog. Transient per-connection
// failures are logged and skipped; only a broken listening socket is fatal
// to the listener itself.
func (l *Listener) doEventAccept() error {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return nil
			case unix.ECONNABORTED, unix.EINTR:
				continue
			default:
				return newNetError("accept", "", err)
			}
		}

		tcp, err := newAdoptedTCP(l.reactor, fd)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "doEventAccept",
				"error":    err,
			}).Warn("Dropping accepted connection")
			continue
		}
		l.onAccept(tcp)
	}
}

func (l *Listener) doEventClose(cause error) {
	logrus.WithFields(logrus.Fields{
		"function": "doEventClose",
		"cause":    cause,
	}).Info("Listener closed")
}
