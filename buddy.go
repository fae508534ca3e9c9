package torchat

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/torchat/protocol"
)

// Buddy is the state for one peer. Every peer the protocol talks to is
// backed by two connections at once: the incoming one the peer opened to
// our listener and the outgoing one we opened through the proxy. The
// buddy is ready for chat only when both slots are filled, the peer's
// onion address is known and the ping/pong handshake has completed.
type Buddy struct {
	client *Client

	incoming *Connection
	outgoing *Connection

	// onion is the peer's address. Empty until the first ping names it.
	onion string

	handshakeComplete bool

	// peer-reported state
	status        protocol.Presence
	clientName    string
	clientVersion string
}

func newBuddy(client *Client, onion string) *Buddy {
	logrus.WithFields(logrus.Fields{
		"function": "newBuddy",
		"onion":    onion,
	}).Info("Creating buddy")

	return &Buddy{
		client: client,
		onion:  onion,
		status: protocol.PresenceAvailable,
	}
}

// OnionAddress returns the peer's onion address, or "" while unknown.
func (b *Buddy) OnionAddress() string {
	return b.onion
}

// Status returns the last presence the peer reported.
func (b *Buddy) Status() protocol.Presence {
	return b.status
}

// ClientName returns the peer's reported software name.
func (b *Buddy) ClientName() string {
	return b.clientName
}

// ClientVersion returns the peer's reported software version.
func (b *Buddy) ClientVersion() string {
	return b.clientVersion
}

// IsReadyForChat reports whether chat messages can flow: both connections
// present, the peer identified, the handshake complete.
func (b *Buddy) IsReadyForChat() bool {
	return b.incoming != nil && b.outgoing != nil &&
		b.onion != "" && b.handshakeComplete
}

// attachIncoming stores the incoming connection. A connection already in
// the slot is closed before it is displaced; dropping the reference alone
// would leak the socket.
func (b *Buddy) attachIncoming(conn *Connection) {
	if b.incoming != nil && b.incoming != conn {
		b.incoming.close(errReplaced)
	}
	b.incoming = conn
	conn.buddy = b
}

// attachOutgoing stores the outgoing connection, closing any displaced
// one like attachIncoming does.
func (b *Buddy) attachOutgoing(conn *Connection) {
	if b.outgoing != nil && b.outgoing != conn {
		b.outgoing.close(errReplaced)
	}
	b.outgoing = conn
	conn.buddy = b
}

// onPing drives our half of the handshake. A ping can arrive on either
// connection; if we have no outgoing connection to this peer yet, one is
// opened through the proxy and the full greeting goes out on it: our own
// ping, the pong echoing the peer's nonce, our status, our version and our
// client name. The transport queue preserves exactly that order even though
// the connection is still being established. With an outgoing connection
// already up, no ping is sent; only pong, status, version and client name.
func (b *Buddy) onPing(msg *protocol.Ping) {
	b.log().WithFields(logrus.Fields{
		"function": "onPing",
		"nonce":    msg.Nonce,
	}).Debug("Ping received")

	if b.onion == "" {
		b.onion = msg.OnionAddress
	}

	if b.outgoing == nil {
		conn, err := newOutgoingConnection(b.client, b, b.onion)
		if err != nil {
			b.log().WithError(err).Error("Cannot open outgoing connection")
			return
		}
		b.attachOutgoing(conn)
		conn.SendMessage(&protocol.Ping{
			OnionAddress: b.client.opts.OnionAddress,
			Nonce:        b.client.nonce,
		})
	}

	out := b.outgoing
	out.SendMessage(&protocol.Pong{Nonce: msg.Nonce})
	out.SendMessage(&protocol.Status{State: b.client.status})
	out.SendMessage(&protocol.Version{Version: b.client.opts.ClientVersion})
	out.SendMessage(&protocol.ClientInfo{Name: b.client.opts.ClientName})
}

// onPong completes the handshake when the echoed nonce is our own. A
// foreign nonce proves nothing and is dropped.
func (b *Buddy) onPong(msg *protocol.Pong) {
	if msg.Nonce != b.client.nonce {
		b.log().WithFields(logrus.Fields{
			"function": "onPong",
			"nonce":    msg.Nonce,
		}).Warn("Pong with foreign nonce, ignored")
		return
	}
	if b.handshakeComplete {
		return
	}
	b.handshakeComplete = true

	b.log().WithField("function", "onPong").Info("Handshake complete")
	b.client.signalChatEstablished(b)
}

func (b *Buddy) onStatus(msg *protocol.Status) {
	b.status = msg.State
	b.client.signalStatusChanged(b)
}

func (b *Buddy) onVersion(msg *protocol.Version) {
	b.clientVersion = msg.Version
}

func (b *Buddy) onClientInfo(msg *protocol.ClientInfo) {
	b.clientName = msg.Name
}

func (b *Buddy) onChatMessage(msg *protocol.ChatMessage) {
	b.client.signalChatMessage(b, msg.Body)
}

// onDisconnect empties whichever slot the lost connection occupied. The
// buddy is no longer ready for chat until a fresh handshake refills it.
func (b *Buddy) onDisconnect(conn *Connection, cause error) {
	switch conn {
	case b.incoming:
		b.incoming = nil
	case b.outgoing:
		b.outgoing = nil
	default:
		// a displaced connection going down is old news
		return
	}
	b.handshakeComplete = false
	b.client.signalBuddyDisconnect(b, cause)
}

func (b *Buddy) log() *logrus.Entry {
	return logrus.WithField("buddy", b.onion)
}
