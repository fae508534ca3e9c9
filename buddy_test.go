package torchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/torchat/protocol"
)

func TestPingOpensOutgoingAndGreets(t *testing.T) {
	c, out := newTestClient(t)
	conn, _ := acceptTestConnection(c)

	conn.OnReceive([]byte("ping abcdefghijklmnop peer-nonce\n"))

	b, ok := c.buddies["abcdefghijklmnop"]
	require.True(t, ok)
	require.NotNil(t, b.outgoing)

	// the greeting on the fresh outgoing connection: our ping, the pong
	// echoing the peer's nonce, status and version, in exactly that order
	cmds := out.commands(t)
	require.GreaterOrEqual(t, len(cmds), 4)
	assert.Equal(t, []string{"ping", "pong", "status", "version"}, cmds[:4])

	ping := decodeMessage(t, out.sent[0]).(*protocol.Ping)
	assert.Equal(t, c.opts.OnionAddress, ping.OnionAddress)
	assert.Equal(t, c.nonce, ping.Nonce)

	pong := decodeMessage(t, out.sent[1]).(*protocol.Pong)
	assert.Equal(t, "peer-nonce", pong.Nonce)
}

func TestSecondPingSkipsOwnPing(t *testing.T) {
	c, out := newTestClient(t)
	conn, _ := acceptTestConnection(c)

	conn.OnReceive([]byte("ping abcdefghijklmnop first\n"))
	sentBefore := len(out.sent)

	conn.OnReceive([]byte("ping abcdefghijklmnop second\n"))

	cmds := out.commands(t)[sentBefore:]
	require.NotEmpty(t, cmds)
	assert.NotContains(t, cmds, "ping", "an existing outgoing connection must not be pinged again")
	assert.Equal(t, "pong", cmds[0])

	pong := decodeMessage(t, out.sent[sentBefore]).(*protocol.Pong)
	assert.Equal(t, "second", pong.Nonce)
}

func TestPongCompletesHandshake(t *testing.T) {
	c, _ := newTestClient(t)

	var established []string
	c.OnChatEstablished(func(onion string) {
		established = append(established, onion)
	})

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop peer-nonce\n"))

	b := c.buddies["abcdefghijklmnop"]
	require.NotNil(t, b)
	assert.False(t, b.IsReadyForChat())

	// the peer echoes our nonce on the connection we opened to it
	b.outgoing.OnReceive([]byte("pong " + c.nonce + "\n"))

	assert.True(t, b.IsReadyForChat())
	assert.Equal(t, []string{"abcdefghijklmnop"}, established)
}

func TestPongWithForeignNonceIsIgnored(t *testing.T) {
	c, _ := newTestClient(t)

	var established int
	c.OnChatEstablished(func(onion string) { established++ })

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop peer-nonce\n"))

	b := c.buddies["abcdefghijklmnop"]
	b.outgoing.OnReceive([]byte("pong somebody-elses-nonce\n"))

	assert.False(t, b.IsReadyForChat())
	assert.Zero(t, established)
}

func TestChatEstablishedFiresOnce(t *testing.T) {
	c, _ := newTestClient(t)

	var established int
	c.OnChatEstablished(func(onion string) { established++ })

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop peer-nonce\n"))

	b := c.buddies["abcdefghijklmnop"]
	b.outgoing.OnReceive([]byte("pong " + c.nonce + "\n"))
	b.outgoing.OnReceive([]byte("pong " + c.nonce + "\n"))

	assert.Equal(t, 1, established)
}

func TestReplacementConnectionClosesDisplaced(t *testing.T) {
	c, _ := newTestClient(t)

	first, firstLink := acceptTestConnection(c)
	first.OnReceive([]byte("ping abcdefghijklmnop n1\n"))
	require.False(t, firstLink.closed)

	second, secondLink := acceptTestConnection(c)
	second.OnReceive([]byte("ping abcdefghijklmnop n2\n"))

	// the displaced incoming connection must be closed, not leaked
	assert.True(t, firstLink.closed)
	assert.ErrorIs(t, firstLink.cause, errReplaced)
	assert.False(t, secondLink.closed)

	b := c.buddies["abcdefghijklmnop"]
	assert.Same(t, second, b.incoming)
}

func TestStatusAndVersionRecorded(t *testing.T) {
	c, _ := newTestClient(t)

	var statuses []protocol.Presence
	c.OnStatusChanged(func(onion string, s protocol.Presence) {
		statuses = append(statuses, s)
	})

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop n\n"))
	conn.OnReceive([]byte("status away\n"))
	conn.OnReceive([]byte("version 0.9.9.553\n"))
	conn.OnReceive([]byte("client TorChat\n"))

	b := c.buddies["abcdefghijklmnop"]
	assert.Equal(t, protocol.PresenceAway, b.Status())
	assert.Equal(t, "0.9.9.553", b.ClientVersion())
	assert.Equal(t, "TorChat", b.ClientName())
	assert.Equal(t, []protocol.Presence{protocol.PresenceAway}, statuses)
}

func TestDisconnectClearsSlotAndReadiness(t *testing.T) {
	c, _ := newTestClient(t)

	var gone []string
	c.OnBuddyDisconnect(func(onion string, cause error) {
		gone = append(gone, onion)
	})

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop n\n"))
	b := c.buddies["abcdefghijklmnop"]
	b.outgoing.OnReceive([]byte("pong " + c.nonce + "\n"))
	require.True(t, b.IsReadyForChat())

	conn.OnDisconnect(ErrClientStopped)

	assert.Nil(t, b.incoming)
	assert.False(t, b.IsReadyForChat())
	assert.Equal(t, []string{"abcdefghijklmnop"}, gone)
}

func TestPingOnOutgoingConnection(t *testing.T) {
	// a ping may arrive on either connection; one arriving on the
	// connection we opened must not spawn another outgoing connection
	c, out := newTestClient(t)

	conn, _ := acceptTestConnection(c)
	conn.OnReceive([]byte("ping abcdefghijklmnop n1\n"))

	b := c.buddies["abcdefghijklmnop"]
	outConn := b.outgoing
	require.NotNil(t, outConn)

	before := len(out.sent)
	outConn.OnReceive([]byte("ping abcdefghijklmnop n3\n"))

	assert.Same(t, outConn, b.outgoing, "outgoing connection must be reused")
	cmds := out.commands(t)[before:]
	assert.NotContains(t, cmds, "ping")
}

// decodeMessage parses one captured wire frame back into its typed form.
func decodeMessage(t *testing.T, wire []byte) protocol.Message {
	t.Helper()
	require.NotEmpty(t, wire)
	require.Equal(t, byte(0x0a), wire[len(wire)-1])

	buf := protocol.ParseMessageBuffer(wire[:len(wire)-1])
	cmd, err := buf.ReadCommand()
	require.NoError(t, err)
	msg := protocol.New(cmd)
	require.NoError(t, msg.Parse(buf))
	return msg
}
