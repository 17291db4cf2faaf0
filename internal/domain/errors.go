package domain

import "errors"

// Error taxonomy. Concrete failures wrap one of these so callers can branch
// with errors.Is.
var (
	// ErrTransport covers connect, accept, read and write failures.
	ErrTransport = errors.New("transport error")

	// ErrKeyFormat is returned for malformed or misused key material.
	ErrKeyFormat = errors.New("key format error")

	// ErrHandshake is returned when the key exchange does not complete:
	// hash mismatch, bad signature, unexpected status frame, or the peer
	// disconnecting mid-exchange.
	ErrHandshake = errors.New("handshake failure")

	// ErrDecryption is returned when an inbound data frame cannot be decrypted.
	ErrDecryption = errors.New("decryption error")

	// ErrChannelNotEstablished is returned by Send before the handshake has
	// completed or after the channel has been torn down.
	ErrChannelNotEstablished = errors.New("channel not established")

	// ErrEmptyMessage is returned when asked to send or encrypt empty text.
	// Empty frames cannot be told apart from a missing message on the wire.
	ErrEmptyMessage = errors.New("empty message")

	// ErrChannelClosed is returned by operations on a channel that was closed locally.
	ErrChannelClosed = errors.New("channel closed")

	// ErrAlreadyStarted is returned when StartConnection is called on an active connection.
	ErrAlreadyStarted = errors.New("connection already started")

	// ErrInvalidRole is returned for roles other than "server" and "client".
	ErrInvalidRole = errors.New("invalid role")
)
