// Package torchat implements the networking and protocol core of a
// peer-to-peer TorChat client. Peers are identified by opaque onion
// addresses and reach each other exclusively through an anonymizing
// SOCKS4a proxy, normally a Tor client on loopback.
//
// The package ties three layers together: the single-goroutine socket
// reactor (package reactor), the line-delimited wire codec and typed
// message set (package protocol), and the peer state machine implemented
// here — the dual-connection Buddy records and the Client that owns the
// listener, the buddy registry and the application callbacks.
//
// Every buddy is backed by two TCP connections at once: the one the peer
// opened to us and the one we opened to the peer. The ping/pong handshake
// establishes both and proves each side controls the onion address it
// advertises.
//
// Example:
//
//	opts := torchat.NewOptions()
//	opts.OnionAddress = "abcdefghijklmnop"
//	opts.ListenPort = 11009
//
//	client, err := torchat.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnChatEstablished(func(onion string) {
//	    fmt.Printf("ready to chat with %s\n", onion)
//	})
//	client.OnChatMessage(func(onion, text string) {
//	    fmt.Printf("<%s> %s\n", onion, text)
//	})
//
//	if err := client.Run(); err != nil {
//	    log.Fatal(err)
//	}
package torchat
