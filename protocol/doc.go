// Package protocol implements the TorChat wire protocol: the line-delimited
// transfer encoding, the whitespace-separated field codec, and the typed
// message set exchanged between peers.
//
// # Framing
//
// A message on the wire is a run of bytes terminated by a single 0x0a. To
// keep the terminator unambiguous, message bodies are transfer-encoded
// before sending: every backslash becomes `\/` and every line feed becomes
// `\n`. MessageBuffer performs both directions of this transformation.
//
// # Messages
//
// Within a decoded message, fields are separated by single spaces and the
// first field is the command name. Known commands are registered in an
// explicit command-to-constructor table; anything else parses into an
// unknown message whose only effect is a not_implemented reply.
//
// Example:
//
//	buf := protocol.NewMessageBuffer()
//	buf.WriteString("ping")
//	buf.WriteString(onion)
//	buf.WriteString(nonce)
//	wire := buf.EncodeForSending() // ready for the socket, 0x0a-terminated
package protocol
