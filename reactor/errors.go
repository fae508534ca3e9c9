package reactor

import (
	"errors"
	"fmt"
)

// Common errors for reactor-managed handles
var (
	// ErrClosedByRemote indicates the peer closed the connection (EOF on read)
	ErrClosedByRemote = errors.New("closed by foreign host")

	// ErrReactorStopped indicates the handle was closed because its reactor
	// shut down
	ErrReactorStopped = errors.New("reactor stopped")

	// ErrMalformedSocksReply indicates the proxy answered the SOCKS4a request
	// with something other than the expected 8-byte reply
	ErrMalformedSocksReply = errors.New("malformed reply from socks proxy")
)

// NetError carries the operation and address context of a socket-level
// failure. Everything the kernel hands back during connect, read, write,
// bind or accept surfaces wrapped in one of these.
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("reactor %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("reactor %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

func newNetError(op, addr string, err error) *NetError {
	return &NetError{Op: op, Addr: addr, Err: err}
}

// SocksRefusedError reports a SOCKS4a request the proxy rejected. Status
// carries the reply status byte (0x5b, 0x5c or 0x5d); Host and Port name
// the destination the request was for, which is what makes these logs
// actionable.
type SocksRefusedError struct {
	Status byte
	Host   string
	Port   uint16
}

func (e *SocksRefusedError) Error() string {
	return fmt.Sprintf("socks4a error %d while connecting %s:%d", e.Status, e.Host, e.Port)
}
