package protocol

import (
	"errors"
	"fmt"
)

// Common errors for protocol parsing
var (
	// ErrEndOfInput indicates a read past the end of a message buffer
	ErrEndOfInput = errors.New("no more bytes to read")

	// ErrEmptyMessage indicates a required message field that is present but
	// empty; an empty command field is reported as ErrEndOfInput instead
	ErrEmptyMessage = errors.New("empty message")
)

// ParseError reports a field of a known command that could not be parsed.
// A peer sending one of these is violating the protocol; the connection it
// arrived on is not expected to survive.
type ParseError struct {
	Command string // command whose payload was malformed
	Field   string // field that failed, if identifiable
	Err     error  // underlying error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse %s: field %s: %v", e.Command, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Command, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(command, field string, err error) *ParseError {
	return &ParseError{Command: command, Field: field, Err: err}
}
