package torchat

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/torchat/protocol"
	"github.com/opd-ai/torchat/reactor"
)

// Client owns the reactor, the listener for incoming connections, the
// buddy registry and the application-facing callbacks. All buddy and
// connection state is confined to the reactor goroutine: the exported
// mutating methods marshal themselves there, and every callback the
// application registers is invoked from there and must not block.
type Client struct {
	opts *Options

	reactor  *reactor.Reactor
	listener *reactor.Listener

	// buddies is keyed by onion address.
	buddies map[string]*Buddy

	// pending holds accepted connections no ping has claimed yet.
	pending map[*Connection]struct{}

	// nonce is the random string our pings carry. Regenerated every
	// start; a pong echoing it back completes a handshake.
	nonce string

	// status is what we currently advertise to peers.
	status protocol.Presence

	// dial opens the transport for an outgoing connection. Swappable so
	// tests can run the peer logic without a proxy.
	dial func(cb reactor.Callback, onion string) (link, error)

	chatEstablishedCallback func(onion string)
	chatMessageCallback     func(onion string, text string)
	statusChangedCallback   func(onion string, status protocol.Presence)
	buddyDisconnectCallback func(onion string, cause error)
}

// New creates a Client for the given options. The reactor exists after
// this but does not run until Run is called.
func New(opts *Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	r, err := reactor.New()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:    opts,
		reactor: r,
		buddies: make(map[string]*Buddy),
		pending: make(map[*Connection]struct{}),
		nonce:   uuid.NewString(),
		status:  protocol.PresenceAvailable,
	}
	c.dial = c.dialViaProxy

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"onion":    opts.OnionAddress,
	}).Info("Client created")

	return c, nil
}

// Run opens the listener and blocks in the reactor loop until Stop is
// called. Peer events reach the application through the registered
// callbacks while Run is blocking.
func (c *Client) Run() error {
	l, err := reactor.NewListener(c.reactor, c.opts.ListenHost, c.opts.ListenPort, c.onAccept)
	if err != nil {
		return err
	}
	c.listener = l
	return c.reactor.Run()
}

// Stop shuts the reactor down, closing every connection. Safe from any
// goroutine.
func (c *Client) Stop() {
	c.reactor.Stop()
}

// OnChatEstablished sets the callback fired when a buddy's handshake
// completes and chat may begin.
func (c *Client) OnChatEstablished(cb func(onion string)) {
	c.chatEstablishedCallback = cb
}

// OnChatMessage sets the callback for incoming chat messages.
func (c *Client) OnChatMessage(cb func(onion string, text string)) {
	c.chatMessageCallback = cb
}

// OnStatusChanged sets the callback for buddy presence changes.
func (c *Client) OnStatusChanged(cb func(onion string, status protocol.Presence)) {
	c.statusChangedCallback = cb
}

// OnBuddyDisconnect sets the callback fired when a buddy loses one of its
// connections.
func (c *Client) OnBuddyDisconnect(cb func(onion string, cause error)) {
	c.buddyDisconnectCallback = cb
}

// SendChatMessage sends one chat text to a ready buddy. It blocks until
// the reactor has picked the request up, so it must not be called from a
// registered callback; code running on the reactor goroutine sends on a
// connection directly.
func (c *Client) SendChatMessage(onion string, text string) error {
	if !c.reactor.Running() {
		return ErrClientStopped
	}
	result := make(chan error, 1)
	c.reactor.InvokeLater(func() {
		b, ok := c.buddies[onion]
		if !ok {
			result <- ErrBuddyNotFound
			return
		}
		if !b.IsReadyForChat() {
			result <- ErrBuddyNotReady
			return
		}
		b.outgoing.SendMessage(&protocol.ChatMessage{Body: text})
		result <- nil
	})
	return <-result
}

// SetStatus changes our advertised presence and pushes it to every ready
// buddy. Safe from any goroutine.
func (c *Client) SetStatus(status protocol.Presence) {
	c.reactor.InvokeLater(func() {
		c.status = status
		for _, b := range c.buddies {
			if b.IsReadyForChat() {
				b.outgoing.SendMessage(&protocol.Status{State: status})
			}
		}
	})
}

// dialViaProxy is the production dial: SOCKS4a through the configured
// proxy to the peer's onion service on the well-known port.
func (c *Client) dialViaProxy(cb reactor.Callback, onion string) (link, error) {
	return reactor.NewOutgoingTCPViaSocks(c.reactor, onion+onionSuffix, DefaultPort, cb,
		c.opts.ProxyHost, c.opts.ProxyPort, c.opts.ProxyUser)
}

// onAccept wraps a freshly accepted transport into an unclaimed incoming
// connection. It stays unclaimed until the peer's ping names an onion
// address a buddy can be found or created for.
func (c *Client) onAccept(tcp *reactor.TCP) {
	conn := newIncomingConnection(c, tcp)
	tcp.Callback = conn
	c.pending[conn] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"function":   "onAccept",
		"connection": conn.number,
	}).Debug("Incoming connection accepted")
}

// claimIncoming binds an unclaimed incoming connection to the buddy the
// ping identified, creating the buddy on first contact, then lets the
// buddy answer the ping.
func (c *Client) claimIncoming(conn *Connection, msg *protocol.Ping) {
	delete(c.pending, conn)

	b, ok := c.buddies[msg.OnionAddress]
	if !ok {
		b = newBuddy(c, msg.OnionAddress)
		c.buddies[msg.OnionAddress] = b
	}
	b.attachIncoming(conn)
	b.onPing(msg)
}

func (c *Client) forgetPending(conn *Connection) {
	delete(c.pending, conn)
}

func (c *Client) signalChatEstablished(b *Buddy) {
	if c.chatEstablishedCallback != nil {
		c.chatEstablishedCallback(b.onion)
	}
}

func (c *Client) signalChatMessage(b *Buddy, text string) {
	if c.chatMessageCallback != nil {
		c.chatMessageCallback(b.onion, text)
	}
}

func (c *Client) signalStatusChanged(b *Buddy) {
	if c.statusChangedCallback != nil {
		c.statusChangedCallback(b.onion, b.status)
	}
}

func (c *Client) signalBuddyDisconnect(b *Buddy, cause error) {
	if c.buddyDisconnectCallback != nil {
		c.buddyDisconnectCallback(b.onion, cause)
	}
}
