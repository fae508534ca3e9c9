// Package reactor implements a single-goroutine readiness reactor over
// non-blocking sockets, the TCP handle type with asynchronous outbound
// queueing, a plain accept listener, and the transparent SOCKS4a client
// handshake that outgoing connections ride through an anonymizing proxy.
//
// # Model
//
// One Reactor owns an epoll instance and a registration table. Everything
// registered with it implements Handle; readiness is translated into the
// doEvent* methods, always on the goroutine running Run. Application code
// never touches sockets directly: it receives OnConnect, OnDisconnect and
// OnReceive upcalls through the Callback it installs on a TCP, and it
// sends by handing byte slices to Send, which never blocks.
//
// Other goroutines may interact with a running reactor only through
// InvokeLater and TCP.Send; every other operation belongs to the reactor
// goroutine.
//
// Example:
//
//	r, err := reactor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go r.Run()
//
//	tcp, err := reactor.NewOutgoingTCPViaSocks(r,
//	    "abcdefghijklmnop.onion", 11009, myCallback,
//	    "127.0.0.1", 9050, "TorChat")
//
// The SOCKS4a handshake is invisible to the application: OnConnect fires
// once, after the proxy has granted the connection, and anything passed to
// Send in the meantime is queued and flushed afterwards.
package reactor
