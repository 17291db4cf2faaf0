package domain

import "context"

// FrameReadWriter moves whole frames over an ordered byte stream.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
}

// Channel is a bidirectional text message channel.
//
// Receive blocks, calling onMessage for every inbound message, until the
// channel is closed, the peer disconnects, ctx is cancelled, or a fault
// occurs. It returns nil for an orderly end and the fault otherwise.
type Channel interface {
	Send(text string) error
	Receive(ctx context.Context, onMessage func(text string)) error
	Close() error
}

// Cipher encrypts text messages under a symmetric session key into
// self-contained wire frames.
type Cipher interface {
	Name() string
	Encrypt(plaintext string, key []byte) (string, error)
	Decrypt(frame string, key []byte) (string, error)
}
