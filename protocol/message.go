package protocol

// Presence is the availability state carried by a status message.
type Presence string

const (
	PresenceAvailable    Presence = "available"
	PresenceAway         Presence = "away"
	PresenceExtendedAway Presence = "xa"
)

// Handler receives the typed upcall for each known message kind. The
// connection that parsed the message implements this and routes the calls
// to whoever owns it.
type Handler interface {
	OnPing(msg *Ping)
	OnPong(msg *Pong)
	OnStatus(msg *Status)
	OnVersion(msg *Version)
	OnClientInfo(msg *ClientInfo)
	OnChatMessage(msg *ChatMessage)
	OnUnknown(msg *Unknown)
}

// Message is one parsed protocol message. Implementations are the typed
// command structs below; New maps a command name to the right one.
type Message interface {
	// Command returns the wire name of the message.
	Command() string
	// Parse reads the positional fields following the command. The buffer
	// cursor sits right after the command when Parse is called.
	Parse(buf *MessageBuffer) error
	// Serialize builds the full message including the command field.
	Serialize() *MessageBuffer
	// Execute delivers the message to the handler.
	Execute(h Handler)
}

// constructors maps a command name to a constructor for its message type.
var constructors = map[string]func() Message{
	CmdPing:           func() Message { return &Ping{} },
	CmdPong:           func() Message { return &Pong{} },
	CmdStatus:         func() Message { return &Status{} },
	CmdVersion:        func() Message { return &Version{} },
	CmdClient:         func() Message { return &ClientInfo{} },
	CmdMessage:        func() Message { return &ChatMessage{} },
	CmdNotImplemented: func() Message { return &NotImplemented{} },
}

// Wire command names.
const (
	CmdPing           = "ping"
	CmdPong           = "pong"
	CmdStatus         = "status"
	CmdVersion        = "version"
	CmdClient         = "client"
	CmdMessage        = "message"
	CmdNotImplemented = "not_implemented"
)

// New returns a fresh message for the given command, or an Unknown message
// when the command is not in the table. Unknown commands are not an error:
// they provoke a not_implemented reply and nothing else.
func New(command string) Message {
	if ctor, ok := constructors[command]; ok {
		return ctor()
	}
	return &Unknown{Cmd: command}
}

// Ping announces the sender's onion address together with a random nonce
// that the receiver must echo back in a pong. It opens the application
// handshake on every new connection pair.
type Ping struct {
	OnionAddress string
	Nonce        string
}

func (m *Ping) Command() string { return CmdPing }

func (m *Ping) Parse(buf *MessageBuffer) error {
	var err error
	if m.OnionAddress, err = buf.ReadString(); err != nil {
		return newParseError(CmdPing, "onion address", err)
	}
	if m.OnionAddress == "" {
		return newParseError(CmdPing, "onion address", ErrEmptyMessage)
	}
	if m.Nonce, err = buf.ReadString(); err != nil {
		return newParseError(CmdPing, "nonce", err)
	}
	if m.Nonce == "" {
		return newParseError(CmdPing, "nonce", ErrEmptyMessage)
	}
	return nil
}

func (m *Ping) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdPing)
	buf.WriteString(m.OnionAddress)
	buf.WriteString(m.Nonce)
	return buf
}

func (m *Ping) Execute(h Handler) { h.OnPing(m) }

// Pong echoes the nonce of a previously received ping. Receiving our own
// nonce back proves the peer really is reachable at the address it
// advertised.
type Pong struct {
	Nonce string
}

func (m *Pong) Command() string { return CmdPong }

func (m *Pong) Parse(buf *MessageBuffer) error {
	var err error
	if m.Nonce, err = buf.ReadString(); err != nil {
		return newParseError(CmdPong, "nonce", err)
	}
	if m.Nonce == "" {
		return newParseError(CmdPong, "nonce", ErrEmptyMessage)
	}
	return nil
}

func (m *Pong) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdPong)
	buf.WriteString(m.Nonce)
	return buf
}

func (m *Pong) Execute(h Handler) { h.OnPong(m) }

// Status carries the sender's availability.
type Status struct {
	State Presence
}

func (m *Status) Command() string { return CmdStatus }

func (m *Status) Parse(buf *MessageBuffer) error {
	s, err := buf.ReadString()
	if err != nil {
		return newParseError(CmdStatus, "state", err)
	}
	if s == "" {
		return newParseError(CmdStatus, "state", ErrEmptyMessage)
	}
	m.State = Presence(s)
	return nil
}

func (m *Status) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdStatus)
	buf.WriteString(string(m.State))
	return buf
}

func (m *Status) Execute(h Handler) { h.OnStatus(m) }

// Version carries the sender's software version string.
type Version struct {
	Version string
}

func (m *Version) Command() string { return CmdVersion }

func (m *Version) Parse(buf *MessageBuffer) error {
	var err error
	if m.Version, err = buf.ReadString(); err != nil {
		return newParseError(CmdVersion, "version", err)
	}
	return nil
}

func (m *Version) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdVersion)
	buf.WriteString(m.Version)
	return buf
}

func (m *Version) Execute(h Handler) { h.OnVersion(m) }

// ClientInfo carries the sender's software name, e.g. "TorChat". The name
// may contain spaces, so it consumes the rest of the message.
type ClientInfo struct {
	Name string
}

func (m *ClientInfo) Command() string { return CmdClient }

func (m *ClientInfo) Parse(buf *MessageBuffer) error {
	b, err := buf.ReadBytesUntilEnd()
	if err != nil {
		return newParseError(CmdClient, "name", err)
	}
	m.Name = trimAndNormalize(string(b))
	return nil
}

func (m *ClientInfo) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdClient)
	buf.WriteString(m.Name)
	return buf
}

func (m *ClientInfo) Execute(h Handler) { h.OnClientInfo(m) }

// ChatMessage is one chat text from the peer. The body runs to the end of
// the message and may contain literal line feeds after decoding.
type ChatMessage struct {
	Body string
}

func (m *ChatMessage) Command() string { return CmdMessage }

func (m *ChatMessage) Parse(buf *MessageBuffer) error {
	b, err := buf.ReadBytesUntilEnd()
	if err != nil {
		return newParseError(CmdMessage, "body", err)
	}
	m.Body = trimAndNormalize(string(b))
	return nil
}

func (m *ChatMessage) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdMessage)
	buf.WriteString(m.Body)
	return buf
}

func (m *ChatMessage) Execute(h Handler) { h.OnChatMessage(m) }

// NotImplemented is the reply a peer sends for a command it does not know.
// Receiving one has no effect at all, which is what keeps two clients with
// disjoint command sets from bouncing replies at each other forever.
type NotImplemented struct{}

func (m *NotImplemented) Command() string { return CmdNotImplemented }

func (m *NotImplemented) Parse(buf *MessageBuffer) error { return nil }

func (m *NotImplemented) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(CmdNotImplemented)
	return buf
}

func (m *NotImplemented) Execute(h Handler) {}

// Unknown stands in for any command missing from the constructor table. It
// parses successfully no matter what follows the command.
type Unknown struct {
	Cmd string
}

func (m *Unknown) Command() string { return m.Cmd }

func (m *Unknown) Parse(buf *MessageBuffer) error { return nil }

func (m *Unknown) Serialize() *MessageBuffer {
	buf := NewMessageBuffer()
	buf.WriteString(m.Cmd)
	return buf
}

func (m *Unknown) Execute(h Handler) { h.OnUnknown(m) }
