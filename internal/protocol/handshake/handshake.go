package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/util/memzero"
)

// Status frame payloads.
const (
	StatusOK    = "OK"
	StatusNotOK = "NOT OK"
)

var errAlreadyRun = errors.New("handshake already run")

// Observer is notified once per finished handshake.
type Observer interface {
	HandshakeFinished(role domain.Role, elapsed time.Duration, err error)
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithLogger sets the logger used for step tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Handshake) {
		if l != nil {
			h.log = l
		}
	}
}

// WithObserver registers o to receive the outcome.
func WithObserver(o Observer) Option {
	return func(h *Handshake) { h.observer = o }
}

// Handshake runs the key exchange for one side of one connection.
type Handshake struct {
	role     domain.Role
	keys     *crypto.KeyStore
	log      logrus.FieldLogger
	observer Observer

	mu    sync.Mutex
	state State
	ran   bool
}

// New prepares a handshake for role using keys, which must not yet hold a
// remote public key.
func New(role domain.Role, keys *crypto.KeyStore, opts ...Option) *Handshake {
	h := &Handshake{
		role: role,
		keys: keys,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("role", role)
	return h
}

// Initiate runs the client side of the exchange over rw.
func Initiate(ctx context.Context, rw domain.FrameReadWriter, keys *crypto.KeyStore, opts ...Option) ([]byte, error) {
	return New(domain.RoleClient, keys, opts...).Run(ctx, rw)
}

// Accept runs the server side of the exchange over rw.
func Accept(ctx context.Context, rw domain.FrameReadWriter, keys *crypto.KeyStore, opts ...Option) ([]byte, error) {
	return New(domain.RoleServer, keys, opts...).Run(ctx, rw)
}

// State returns the current progress.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.log.WithField("handshake_state", s).Debug("handshake step")
}

// Run performs the exchange and returns the verified session key. Every
// failure wraps domain.ErrHandshake.
//
// If rw supports SetDeadline, ctx's deadline and cancellation are applied
// to it so blocked reads return promptly.
func (h *Handshake) Run(ctx context.Context, rw domain.FrameReadWriter) ([]byte, error) {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrHandshake, errAlreadyRun)
	}
	h.ran = true
	h.mu.Unlock()

	if _, err := domain.ParseRole(string(h.role)); err != nil {
		h.setState(StateFailed)
		return nil, fmt.Errorf("%w: %w", domain.ErrHandshake, err)
	}

	defer bindDeadline(ctx, rw)()

	start := time.Now()
	var (
		key []byte
		err error
	)
	if h.role.Initiator() {
		key, err = h.initiate(ctx, rw)
	} else {
		key, err = h.accept(ctx, rw)
	}
	if err != nil {
		h.setState(StateFailed)
		if !errors.Is(err, domain.ErrHandshake) {
			err = fmt.Errorf("%w: %w", domain.ErrHandshake, err)
		}
		h.log.WithError(err).Warn("handshake failed")
	} else {
		h.setState(StateVerified)
		h.log.WithField("peer_fingerprint", h.keys.RemoteFingerprint()).Info("handshake verified")
	}
	if h.observer != nil {
		h.observer.HandshakeFinished(h.role, time.Since(start), err)
	}
	return key, err
}

// initiate is the client sequence:
//  1. Send our public key.
//  2. Receive and store the peer public key.
//  3. Generate the session key and wrap, hash and sign it.
//  4. Send ENC_SESSION_KEY, SESSION_KEY_HASH, SESSION_KEY_SIGNATURE.
//  5. Expect STATUS "OK".
func (h *Handshake) initiate(ctx context.Context, rw domain.FrameReadWriter) ([]byte, error) {
	if err := h.write(ctx, rw, "public key", h.keys.ExportPublicKey()); err != nil {
		return nil, err
	}
	if err := h.readPeerKey(ctx, rw); err != nil {
		return nil, err
	}
	h.setState(StatePubKeysExchanged)

	sessionKey, err := crypto.GenerateSessionKey()
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			memzero.Zero(sessionKey)
		}
	}()

	encrypted, err := h.keys.EncryptWithRemoteKey(sessionKey)
	if err != nil {
		return nil, err
	}
	digest := crypto.Hash(sessionKey)
	signature, err := h.keys.Sign(sessionKey)
	if err != nil {
		return nil, err
	}

	if err := h.write(ctx, rw, "encrypted session key", encrypted); err != nil {
		return nil, err
	}
	if err := h.write(ctx, rw, "session key hash", []byte(crypto.B64(digest))); err != nil {
		return nil, err
	}
	if err := h.write(ctx, rw, "session key signature", []byte(crypto.B64(signature))); err != nil {
		return nil, err
	}
	h.setState(StateSessionKeySent)

	status, err := h.read(ctx, rw, "status")
	if err != nil {
		return nil, err
	}
	if string(status) != StatusOK {
		return nil, fmt.Errorf("%w: peer rejected session key (status %q)", domain.ErrHandshake, truncate(status))
	}
	ok = true
	return sessionKey, nil
}

// accept is the server sequence:
//  1. Receive and store the peer public key.
//  2. Send our public key.
//  3. Receive ENC_SESSION_KEY, SESSION_KEY_HASH, SESSION_KEY_SIGNATURE.
//  4. Decrypt, recompute the hash, verify the signature with the peer key.
//  5. Answer "OK", or "NOT OK" and fail.
func (h *Handshake) accept(ctx context.Context, rw domain.FrameReadWriter) ([]byte, error) {
	if err := h.readPeerKey(ctx, rw); err != nil {
		return nil, err
	}
	if err := h.write(ctx, rw, "public key", h.keys.ExportPublicKey()); err != nil {
		return nil, err
	}
	h.setState(StatePubKeysExchanged)

	encrypted, err := h.read(ctx, rw, "encrypted session key")
	if err != nil {
		return nil, err
	}
	digestFrame, err := h.read(ctx, rw, "session key hash")
	if err != nil {
		return nil, err
	}
	signatureFrame, err := h.read(ctx, rw, "session key signature")
	if err != nil {
		return nil, err
	}
	h.setState(StateSessionKeyReceived)

	sessionKey, verr := h.verify(encrypted, digestFrame, signatureFrame)
	if verr != nil {
		if err := h.write(ctx, rw, "status", []byte(StatusNotOK)); err != nil {
			h.log.WithError(err).Debug("could not deliver rejection")
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrHandshake, verr)
	}
	if err := h.write(ctx, rw, "status", []byte(StatusOK)); err != nil {
		memzero.Zero(sessionKey)
		return nil, err
	}
	return sessionKey, nil
}

// verify unwraps the session key and checks it against the hash and
// signature frames. Both checks always run.
func (h *Handshake) verify(encrypted, digestFrame, signatureFrame []byte) ([]byte, error) {
	sessionKey, err := h.keys.DecryptWithLocalKey(encrypted)
	if err != nil {
		return nil, err
	}
	if len(sessionKey) != crypto.SessionKeySize {
		memzero.Zero(sessionKey)
		return nil, fmt.Errorf("session key has %d bytes, want %d", len(sessionKey), crypto.SessionKeySize)
	}

	digest, derr := crypto.FromB64(string(digestFrame))
	signature, serr := crypto.FromB64(string(signatureFrame))

	hashOK := derr == nil && crypto.HashEqual(crypto.Hash(sessionKey), digest)
	sigOK := serr == nil && h.keys.VerifyRemote(sessionKey, signature)
	switch {
	case !hashOK && !sigOK:
		err = errors.New("session key hash mismatch and signature invalid")
	case !hashOK:
		err = errors.New("session key hash mismatch")
	case !sigOK:
		err = errors.New("session key signature invalid")
	}
	if err != nil {
		memzero.Zero(sessionKey)
		return nil, err
	}
	return sessionKey, nil
}

func (h *Handshake) readPeerKey(ctx context.Context, rw domain.FrameReadWriter) error {
	frame, err := h.read(ctx, rw, "public key")
	if err != nil {
		return err
	}
	if err := h.keys.ImportRemotePublicKey(frame); err != nil {
		return fmt.Errorf("%w: peer public key: %w", domain.ErrHandshake, err)
	}
	return nil
}

func (h *Handshake) read(ctx context.Context, rw domain.FrameReadWriter, what string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrHandshake, what, err)
	}
	frame, err := rw.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: peer disconnected before %s", domain.ErrHandshake, what)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrHandshake, what, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty %s frame", domain.ErrHandshake, what)
	}
	h.log.WithField("frame", what).WithField("bytes", len(frame)).Debug("handshake frame received")
	return frame, nil
}

func (h *Handshake) write(ctx context.Context, rw domain.FrameReadWriter, what string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", domain.ErrHandshake, what, err)
	}
	if err := rw.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: writing %s: %w", domain.ErrHandshake, what, err)
	}
	h.log.WithField("frame", what).WithField("bytes", len(frame)).Debug("handshake frame sent")
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// bindDeadline applies ctx to rw when rw supports deadlines. The returned
// func undoes it.
func bindDeadline(ctx context.Context, rw domain.FrameReadWriter) func() {
	d, ok := rw.(deadliner)
	if !ok {
		return func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = d.SetDeadline(time.Unix(1, 0)) })
	return func() {
		if stop() {
			_ = d.SetDeadline(time.Time{})
		}
	}
}

func truncate(b []byte) string {
	const limit = 32
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
