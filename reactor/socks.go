package reactor

import (
	"github.com/sirupsen/logrus"
)

// SOCKS4 protocol constants.
const (
	socksVersion4   = 0x04
	socksCmdConnect = 0x01
	socksGranted    = 0x5a
	socksReplyLen   = 8
)

// socks4aHandler implements the client side of a SOCKS4a connection
// request. It is a transient decorator over the application's Callback:
// installed for the duration of the handshake, it intercepts the first
// connect and receive events of its TCP, and once the proxy grants the
// request it swaps the application callback back in and disappears.
type socks4aHandler struct {
	tcp         *TCP
	host        string
	port        uint16
	user        string
	application Callback
}

// OnConnect fires when the TCP reached the proxy itself. It assembles the
// SOCKS4a request and pushes it out with sendNow, so the proxy sees one
// contiguous write before any data the application may have queued.
//
// Request layout: version, CONNECT, destination port big-endian, the
// deliberately invalid address 0.0.0.1 selecting name-resolution mode,
// null-terminated user id, null-terminated destination host name.
func (s *socks4aHandler) OnConnect() {
	req := make([]byte, 0, 10+len(s.user)+len(s.host))
	req = append(req, socksVersion4, socksCmdConnect)
	req = append(req, byte(s.port>>8), byte(s.port))
	req = append(req, 0x00, 0x00, 0x00, 0x01)
	req = append(req, s.user...)
	req = append(req, 0x00)
	req = append(req, s.host...)
	req = append(req, 0x00)

	logrus.WithFields(logrus.Fields{
		"function": "OnConnect",
		"host":     s.host,
		"port":     s.port,
	}).Debug("Sending socks4a request")

	if err := s.tcp.sendNow(req); err != nil {
		s.tcp.Close(err)
	}
}

// OnReceive handles the proxy's reply. Exactly 8 bytes, with the status in
// byte 1: 0x5a grants the connection, everything else refuses it. On
// success control transfers to the application callback and a second
// doEventConnect is synthesized; that second run is what subscribes WRITE
// if the application already sent during the handshake.
func (s *socks4aHandler) OnReceive(buf []byte) {
	if len(buf) != socksReplyLen {
		s.tcp.Close(ErrMalformedSocksReply)
		return
	}
	if status := buf[1]; status != socksGranted {
		s.tcp.Close(&SocksRefusedError{Status: status, Host: s.host, Port: s.port})
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "OnReceive",
		"host":     s.host,
		"port":     s.port,
	}).Debug("Socks4a handshake succeeded")

	s.tcp.Callback = s.application
	s.tcp.inSocksHandshake = false
	if err := s.tcp.doEventConnect(); err != nil {
		s.tcp.Close(err)
	}
}

// OnDisconnect propagates a failure during the handshake verbatim to the
// application callback.
func (s *socks4aHandler) OnDisconnect(cause error) {
	s.application.OnDisconnect(cause)
}
