package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/metrics"
	"safechat/internal/util/memzero"
)

// SecureOption configures a Secure channel.
type SecureOption func(*Secure)

// WithCloseHook runs fn exactly once, after the channel has been torn down.
func WithCloseHook(fn func()) SecureOption {
	return func(s *Secure) { s.onClose = fn }
}

// WithMetrics records frame counts in m.
func WithMetrics(m *metrics.Metrics) SecureOption {
	return func(s *Secure) { s.metrics = m }
}

// WithCipher selects the message cipher. The default is crypto.CBC.
func WithCipher(c domain.Cipher) SecureOption {
	return func(s *Secure) {
		if c != nil {
			s.cipher = c
		}
	}
}

// Secure encrypts messages under a session key on top of a Plain channel.
//
// The session key is owned by the channel from construction on and wiped
// by Close.
type Secure struct {
	plain   *Plain
	cipher  domain.Cipher
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	onClose func()

	mu  sync.RWMutex
	key []byte

	closeOnce sync.Once
	closeErr  error
}

// NewSecure binds plain to key.
func NewSecure(plain *Plain, key []byte, opts ...SecureOption) *Secure {
	s := &Secure{
		plain:  plain,
		cipher: crypto.CBC{},
		log:    plain.log,
		key:    key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send encrypts text and writes it as one frame. It fails with
// domain.ErrChannelNotEstablished once the session key is gone and with
// domain.ErrEmptyMessage for empty text.
func (s *Secure) Send(text string) error {
	s.mu.RLock()
	if s.key == nil {
		s.mu.RUnlock()
		return domain.ErrChannelNotEstablished
	}
	if text == "" {
		s.mu.RUnlock()
		return domain.ErrEmptyMessage
	}
	frame, err := s.cipher.Encrypt(text, s.key)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encrypting message: %w", err)
	}

	if err := s.plain.Send(frame); err != nil {
		return err
	}
	s.metrics.FrameSent()
	return nil
}

// Receive decrypts inbound frames and hands the plaintext to onMessage.
//
// It returns nil when the peer disconnects, ctx is cancelled or the channel
// is closed locally, and the fault otherwise (a frame that fails to decrypt
// wraps domain.ErrDecryption). Either way the channel is closed before
// Receive returns.
func (s *Secure) Receive(ctx context.Context, onMessage func(text string)) error {
	err := s.plain.receiveFrames(ctx, func(frame []byte) error {
		text, err := s.decrypt(frame)
		if err != nil {
			s.metrics.DecryptFailed()
			return err
		}
		s.metrics.FrameReceived()
		onMessage(text)
		return nil
	})
	if errors.Is(err, domain.ErrChannelClosed) {
		err = nil
	}
	if err != nil {
		s.log.WithError(err).Warn("secure channel faulted")
	}
	_ = s.Close()
	return err
}

func (s *Secure) decrypt(frame []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", domain.ErrChannelClosed
	}
	return s.cipher.Decrypt(string(frame), s.key)
}

// Established reports whether the channel still holds its session key.
func (s *Secure) Established() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// Close tears the channel down: the transport is closed (unblocking any
// receive), the session key is wiped and the close hook runs. Only the first
// call does anything.
func (s *Secure) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.plain.Close()

		s.mu.Lock()
		memzero.Zero(s.key)
		s.key = nil
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

var _ domain.Channel = (*Secure)(nil)
