package torchat

import "errors"

// Common errors for the chat core
var (
	// ErrBuddyNotFound indicates no buddy exists for the given onion address
	ErrBuddyNotFound = errors.New("buddy not found")

	// ErrBuddyNotReady indicates the buddy's handshake has not completed
	ErrBuddyNotReady = errors.New("buddy not ready for chat")

	// ErrClientStopped indicates the client's reactor is no longer running
	ErrClientStopped = errors.New("client stopped")

	// errEmptyMessage closes a connection whose peer sent a bare delimiter
	errEmptyMessage = errors.New("peer has sent empty message")

	// errInternalProtocol closes a connection after a dispatch failure that
	// is our bug, not the peer's
	errInternalProtocol = errors.New("internal protocol error")

	// errReplaced closes a connection displaced by a newer one in the same
	// buddy slot
	errReplaced = errors.New("replaced by new connection")
)
