package torchat

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/torchat/protocol"
)

// connectionCount numbers connections for logging. Process-wide and
// monotonic, nothing more.
var connectionCount atomic.Int64

// ConnectionType distinguishes who opened the connection.
type ConnectionType int

const (
	// Incoming connections were opened by the peer towards our listener.
	Incoming ConnectionType = iota
	// Outgoing connections were opened by us through the proxy.
	Outgoing
)

func (t ConnectionType) String() string {
	if t == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// link is what a Connection needs from its transport: ordered non-blocking
// sends and a close that reports a cause. *reactor.TCP satisfies it.
type link interface {
	Send(buf []byte)
	Close(cause error)
}

// Connection is one established TorChat connection, either direction. It
// reassembles the 0x0a-delimited message stream across read boundaries,
// parses each complete message and routes the typed result to its buddy.
// A buddy always needs one of each direction; until the first ping
// identifies the peer, an incoming connection sits unclaimed with only the
// client as its owner.
type Connection struct {
	client *Client
	buddy  *Buddy
	link   link

	typ            ConnectionType
	recipientOnion string
	number         int64

	// incomplete holds the tail of the last read with no terminator yet.
	// It never contains a 0x0a byte.
	incomplete []byte

	closed bool
}

// newIncomingConnection wraps a freshly accepted transport. The peer is
// unknown until it pings.
func newIncomingConnection(client *Client, l link) *Connection {
	return &Connection{
		client: client,
		link:   l,
		typ:    Incoming,
		number: connectionCount.Add(1),
	}
}

// newOutgoingConnection opens the SOCKS4a path to the peer's onion
// address. The returned connection is not yet established; everything
// sent on it queues below until the proxy lets us through.
func newOutgoingConnection(client *Client, buddy *Buddy, onion string) (*Connection, error) {
	conn := &Connection{
		client:         client,
		buddy:          buddy,
		typ:            Outgoing,
		recipientOnion: onion,
		number:         connectionCount.Add(1),
	}
	l, err := client.dial(conn, onion)
	if err != nil {
		return nil, err
	}
	conn.link = l
	return conn, nil
}

// Send serializes the message buffer with the transfer encoding and hands
// it to the transport queue.
func (c *Connection) Send(buf *protocol.MessageBuffer) {
	c.link.Send(buf.EncodeForSending())
}

// SendMessage serializes and sends a typed message.
func (c *Connection) SendMessage(msg protocol.Message) {
	c.Send(msg.Serialize())
}

// close tears down the transport; OnDisconnect follows from there.
func (c *Connection) close(cause error) {
	c.closed = true
	c.link.Close(cause)
}

// OnConnect implements reactor.Callback.
func (c *Connection) OnConnect() {
	c.log().Debug("Connection established")
}

// OnDisconnect implements reactor.Callback.
func (c *Connection) OnDisconnect(cause error) {
	c.closed = true
	c.log().WithField("cause", cause).Info("Connection lost")
	if c.buddy != nil {
		c.buddy.onDisconnect(c, cause)
	} else {
		c.client.forgetPending(c)
	}
}

// OnReceive implements reactor.Callback. It splits the byte stream at
// every 0x0a, dispatches each non-empty piece as one complete message and
// keeps the unterminated tail for the next read. An empty piece (a bare
// 0x0a, or two adjacent terminators) closes the connection with
// errEmptyMessage, and nothing after it in the same read is dispatched.
func (c *Connection) OnReceive(buf []byte) {
	total := make([]byte, 0, len(c.incomplete)+len(buf))
	total = append(total, c.incomplete...)
	total = append(total, buf...)

	start := 0
	for i := 0; i < len(total) && !c.closed; i++ {
		if total[i] != 0x0a {
			continue
		}
		if i > start {
			c.onCompleteMessage(total[start:i])
		} else {
			// adjacent delimiters decode to an empty message
			c.close(errEmptyMessage)
		}
		start = i + 1
	}

	tail := total[start:]
	c.incomplete = append([]byte(nil), tail...)
}

// onCompleteMessage decodes one transfer-encoded message, locates its
// typed representation and executes it. The three failure modes map to
// the three closure causes: an empty command is the peer's fault, a field
// that fails to parse is the peer's fault, anything that panics out of
// dispatch is our own bug and is logged as such.
func (c *Connection) onCompleteMessage(raw []byte) {
	buf := protocol.ParseMessageBuffer(raw)

	command, err := buf.ReadCommand()
	if err != nil {
		c.close(errEmptyMessage)
		return
	}

	msg := protocol.New(command)
	if err := msg.Parse(buf); err != nil {
		c.close(fmt.Errorf("peer has sent malformed message: %w", err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log().WithFields(logrus.Fields{
				"command": command,
				"panic":   r,
			}).Error("Message dispatch panicked, this is a bug")
			c.close(errInternalProtocol)
		}
	}()
	msg.Execute(c)
}

// Type returns the connection direction.
func (c *Connection) Type() ConnectionType {
	return c.typ
}

// RecipientOnion returns the peer's onion address, or "" while unknown.
func (c *Connection) RecipientOnion() string {
	return c.recipientOnion
}

// OnPing implements protocol.Handler. The first ping on an unclaimed
// incoming connection is what binds it to a buddy.
func (c *Connection) OnPing(msg *protocol.Ping) {
	c.recipientOnion = msg.OnionAddress
	if c.buddy == nil {
		c.client.claimIncoming(c, msg)
		return
	}
	c.buddy.onPing(msg)
}

// OnPong implements protocol.Handler.
func (c *Connection) OnPong(msg *protocol.Pong) {
	if c.buddy == nil {
		c.log().Warn("Pong on unclaimed connection, ignored")
		return
	}
	c.buddy.onPong(msg)
}

// OnStatus implements protocol.Handler.
func (c *Connection) OnStatus(msg *protocol.Status) {
	if c.buddy != nil {
		c.buddy.onStatus(msg)
	}
}

// OnVersion implements protocol.Handler.
func (c *Connection) OnVersion(msg *protocol.Version) {
	if c.buddy != nil {
		c.buddy.onVersion(msg)
	}
}

// OnClientInfo implements protocol.Handler.
func (c *Connection) OnClientInfo(msg *protocol.ClientInfo) {
	if c.buddy != nil {
		c.buddy.onClientInfo(msg)
	}
}

// OnChatMessage implements protocol.Handler.
func (c *Connection) OnChatMessage(msg *protocol.ChatMessage) {
	if c.buddy != nil {
		c.buddy.onChatMessage(msg)
	}
}

// OnUnknown implements protocol.Handler. Unknown commands get a
// not_implemented reply and are otherwise harmless.
func (c *Connection) OnUnknown(msg *protocol.Unknown) {
	c.log().WithField("command", msg.Cmd).Debug("Unknown command from peer")
	c.SendMessage(&protocol.NotImplemented{})
}

func (c *Connection) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"connection": c.number,
		"type":       c.typ.String(),
		"peer":       c.recipientOnion,
	})
}
