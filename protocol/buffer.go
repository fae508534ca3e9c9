package protocol

import (
	"strconv"
	"strings"
)

// MessageBuffer wraps the serialized form of a single protocol message. It
// is used in both directions: as a builder when composing an outgoing
// message and as a parser over the decoded bytes of a received one. The
// read cursor is independent of the write position. It stays within
// [0, length] except after reading a field that runs to the end of the
// buffer: the cursor then sits one past the end and every further read
// fails with ErrEndOfInput.
type MessageBuffer struct {
	buf     []byte
	posRead int
}

// NewMessageBuffer creates an empty buffer for composing a new message.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{buf: make([]byte, 0, 256)}
}

// ParseMessageBuffer creates a buffer from exactly one transfer-encoded
// message as it arrived from the wire, with the 0x0a delimiter already
// stripped. The transfer encoding is reversed here; afterwards the message
// fields can be read.
func ParseMessageBuffer(encoded []byte) *MessageBuffer {
	m := &MessageBuffer{buf: make([]byte, 0, len(encoded))}
	m.decodeFromReceived(encoded)
	m.ResetReadPos()
	return m
}

// WriteBytes appends binary data exactly as is. If this is not the first
// write, a single leading space (0x20) is written before the data, so
// consecutive fields separate themselves.
func (m *MessageBuffer) WriteBytes(b []byte) {
	if len(m.buf) > 0 {
		m.buf = append(m.buf, 0x20)
	}
	m.buf = append(m.buf, b...)
}

// WriteString appends a string field. The string may contain any unicode
// and any style of line break; line breaks are normalized to 0x0a and
// leading and trailing whitespace is removed before writing.
func (m *MessageBuffer) WriteString(s string) {
	m.WriteBytes([]byte(trimAndNormalize(s)))
}

// WriteDecimal appends the decimal string representation of n as a field.
func (m *MessageBuffer) WriteDecimal(n int) {
	m.WriteString(strconv.Itoa(n))
}

// ReadBytes reads from the current position up to but not including the
// next space (0x20) and advances the position past that space. Two or more
// consecutive spaces yield empty slices for the fields "between" them. If
// no space follows, it reads until the end. Reading past the end returns
// ErrEndOfInput.
func (m *MessageBuffer) ReadBytes() ([]byte, error) {
	posDelimiter := m.posRead
	if posDelimiter >= len(m.buf) {
		return nil, ErrEndOfInput
	}
	for posDelimiter < len(m.buf) {
		if m.buf[posDelimiter] == 0x20 {
			break
		}
		posDelimiter++
	}
	return m.readN(posDelimiter - m.posRead)
}

// ReadBytesUntilEnd reads all remaining bytes until the end of the message.
// At the exact end it returns an empty slice, not an error.
func (m *MessageBuffer) ReadBytesUntilEnd() ([]byte, error) {
	n := len(m.buf) - m.posRead
	if n < 0 {
		return nil, ErrEndOfInput
	}
	result := make([]byte, n)
	copy(result, m.buf[m.posRead:])
	m.posRead = len(m.buf)
	return result, nil
}

// readN consumes n bytes plus the one-byte field delimiter after them. The
// cursor may legally move one past the end; the next read then fails.
func (m *MessageBuffer) readN(n int) ([]byte, error) {
	if n < 0 || m.posRead+n > len(m.buf) {
		return nil, ErrEndOfInput
	}
	result := make([]byte, n)
	copy(result, m.buf[m.posRead:m.posRead+n])
	m.posRead += n + 1
	return result, nil
}

// ReadString reads the next field like ReadBytes and converts it to a
// string, normalizing line endings to 0x0a and trimming surrounding
// whitespace.
func (m *MessageBuffer) ReadString() (string, error) {
	b, err := m.ReadBytes()
	if err != nil {
		return "", err
	}
	return trimAndNormalize(string(b)), nil
}

// ReadCommand resets the read position and returns the first field of the
// message. An empty first field (or an entirely empty message) returns
// ErrEndOfInput. Afterwards the cursor sits at the start of the message
// payload.
func (m *MessageBuffer) ReadCommand() (string, error) {
	m.ResetReadPos()
	c, err := m.ReadString()
	if err != nil {
		return "", err
	}
	if len(c) == 0 {
		return "", ErrEndOfInput
	}
	return c, nil
}

// ResetReadPos moves the read cursor back to the beginning of the buffer.
func (m *MessageBuffer) ResetReadPos() {
	m.posRead = 0
}

// Len returns the number of decoded bytes in the buffer.
func (m *MessageBuffer) Len() int {
	return len(m.buf)
}

// Bytes returns the decoded buffer contents. The slice aliases the
// internal storage and must not be modified.
func (m *MessageBuffer) Bytes() []byte {
	return m.buf
}

// EncodeForSending applies the transfer encoding to the message and appends
// the 0x0a message delimiter. The result can be handed to the socket layer
// without further processing.
func (m *MessageBuffer) EncodeForSending() []byte {
	// every \ becomes \/ and every 0x0a becomes \n; statistically the
	// growth is well under 1%, the extra capacity avoids most reallocations
	out := make([]byte, 0, len(m.buf)+len(m.buf)/10+1)
	for _, b := range m.buf {
		switch b {
		case '\\':
			out = append(out, '\\', '/')
		case 0x0a:
			out = append(out, '\\', 'n')
		default:
			out = append(out, b)
		}
	}
	return append(out, 0x0a)
}

// decodeFromReceived reverses the transfer encoding. A backslash followed
// by anything other than 'n' or '/' is dropped together with its follower,
// and a lone trailing backslash is dropped silently.
func (m *MessageBuffer) decodeFromReceived(encoded []byte) {
	pos := 0
	for pos < len(encoded) {
		b := encoded[pos]
		pos++
		if b != '\\' {
			m.buf = append(m.buf, b)
			continue
		}
		if pos >= len(encoded) {
			// lone trailing backslash, dropped
			break
		}
		b = encoded[pos]
		pos++
		switch b {
		case 'n':
			m.buf = append(m.buf, 0x0a)
		case '/':
			m.buf = append(m.buf, '\\')
		}
	}
}

// trimAndNormalize removes leading and trailing whitespace and converts
// CRLF and bare CR line endings to LF.
func trimAndNormalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
