package handshake_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/protocol/handshake"
	"safechat/internal/transport"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newKeys(t *testing.T) *crypto.KeyStore {
	t.Helper()
	ks, err := crypto.GenerateKeyPair(0)
	require.NoError(t, err)
	return ks
}

func connPair(t *testing.T) (client, server *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	client, server = transport.NewConn(a, 0), transport.NewConn(b, 0)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

type result struct {
	key []byte
	err error
}

// run drives both sides concurrently and returns their results.
func run(t *testing.T, client, server domain.FrameReadWriter, ck, sk *crypto.KeyStore) (*handshake.Handshake, result, *handshake.Handshake, result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := handshake.New(domain.RoleClient, ck, handshake.WithLogger(quietLogger()))
	sh := handshake.New(domain.RoleServer, sk, handshake.WithLogger(quietLogger()))

	var wg sync.WaitGroup
	var cr, sr result
	wg.Add(2)
	go func() {
		defer wg.Done()
		cr.key, cr.err = ch.Run(ctx, client)
	}()
	go func() {
		defer wg.Done()
		sr.key, sr.err = sh.Run(ctx, server)
	}()
	wg.Wait()
	return ch, cr, sh, sr
}

func TestHandshake_Success(t *testing.T) {
	client, server := connPair(t)
	ck, sk := newKeys(t), newKeys(t)

	ch, cr, sh, sr := run(t, client, server, ck, sk)

	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	require.Len(t, cr.key, crypto.SessionKeySize)
	assert.Equal(t, cr.key, sr.key)
	assert.Equal(t, handshake.StateVerified, ch.State())
	assert.Equal(t, handshake.StateVerified, sh.State())

	assert.Equal(t, sk.Fingerprint(), ck.RemoteFingerprint())
	assert.Equal(t, ck.Fingerprint(), sk.RemoteFingerprint())
}

func TestHandshake_IndependentSessionsGetDistinctKeys(t *testing.T) {
	c1, s1 := connPair(t)
	_, r1, _, _ := run(t, c1, s1, newKeys(t), newKeys(t))
	c2, s2 := connPair(t)
	_, r2, _, _ := run(t, c2, s2, newKeys(t), newKeys(t))

	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.NotEqual(t, r1.key, r2.key)
}

// tamperWriter rewrites the n-th frame written through it.
type tamperWriter struct {
	domain.FrameReadWriter
	n       int
	writes  int
	rewrite func([]byte) []byte
}

func (w *tamperWriter) WriteFrame(frame []byte) error {
	if w.writes == w.n {
		frame = w.rewrite(append([]byte(nil), frame...))
	}
	w.writes++
	return w.FrameReadWriter.WriteFrame(frame)
}

func TestHandshake_TamperedHashIsRejected(t *testing.T) {
	client, server := connPair(t)

	// Client writes: 0 public key, 1 encrypted key, 2 hash, 3 signature.
	tampered := &tamperWriter{FrameReadWriter: client, n: 2, rewrite: func(f []byte) []byte {
		digest, err := crypto.FromB64(string(f))
		if err != nil {
			return f
		}
		digest[0] ^= 0xFF
		return []byte(crypto.B64(digest))
	}}

	ch, cr, sh, sr := run(t, tampered, server, newKeys(t), newKeys(t))

	require.ErrorIs(t, sr.err, domain.ErrHandshake)
	assert.Contains(t, sr.err.Error(), "hash mismatch")
	assert.Equal(t, handshake.StateFailed, sh.State())
	assert.Nil(t, sr.key)

	require.ErrorIs(t, cr.err, domain.ErrHandshake)
	assert.Contains(t, cr.err.Error(), handshake.StatusNotOK)
	assert.Equal(t, handshake.StateFailed, ch.State())
	assert.Nil(t, cr.key)
}

// resigningReader replaces the signature frame the server reads with a
// valid signature over the real session key made by an unrelated key pair.
type resigningReader struct {
	domain.FrameReadWriter
	serverKeys *crypto.KeyStore
	forger     *crypto.KeyStore
	reads      int
	sessionKey []byte
}

func (r *resigningReader) ReadFrame() ([]byte, error) {
	frame, err := r.FrameReadWriter.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer func() { r.reads++ }()
	switch r.reads {
	case 1:
		r.sessionKey, err = r.serverKeys.DecryptWithLocalKey(frame)
		if err != nil {
			return nil, err
		}
	case 3:
		sig, err := r.forger.Sign(r.sessionKey)
		if err != nil {
			return nil, err
		}
		return []byte(crypto.B64(sig)), nil
	}
	return frame, nil
}

func TestHandshake_ForeignSignatureIsRejected(t *testing.T) {
	client, server := connPair(t)
	sk := newKeys(t)
	forging := &resigningReader{FrameReadWriter: server, serverKeys: sk, forger: newKeys(t)}

	_, cr, sh, sr := run(t, client, forging, newKeys(t), sk)

	require.ErrorIs(t, sr.err, domain.ErrHandshake)
	assert.Contains(t, sr.err.Error(), "signature invalid")
	assert.NotContains(t, sr.err.Error(), "hash mismatch")
	assert.Equal(t, handshake.StateFailed, sh.State())
	require.ErrorIs(t, cr.err, domain.ErrHandshake)
}

func TestHandshake_SubstitutedClientKeyFailsSignature(t *testing.T) {
	client, server := connPair(t)
	impostor := newKeys(t)

	// Swap the advertised client public key: the server then encrypts
	// nothing to it but verifies the signature against the wrong key.
	swapped := &tamperWriter{FrameReadWriter: client, n: 0, rewrite: func([]byte) []byte {
		return impostor.ExportPublicKey()
	}}

	_, cr, _, sr := run(t, swapped, server, newKeys(t), newKeys(t))

	require.ErrorIs(t, sr.err, domain.ErrHandshake)
	assert.Contains(t, sr.err.Error(), "signature invalid")
	require.ErrorIs(t, cr.err, domain.ErrHandshake)
}

// scriptedPeer writes a fixed list of frames.
func scriptedPeer(conn *transport.Conn, frames ...[]byte) {
	for _, f := range frames {
		if err := conn.WriteFrame(f); err != nil {
			return
		}
	}
}

func TestHandshake_MalformedPeerKey(t *testing.T) {
	client, server := connPair(t)

	go func() {
		if _, err := server.ReadFrame(); err != nil {
			return
		}
		scriptedPeer(server, []byte("definitely not a key"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := handshake.New(domain.RoleClient, newKeys(t), handshake.WithLogger(quietLogger()))
	_, err := h.Run(ctx, client)

	require.ErrorIs(t, err, domain.ErrHandshake)
	require.ErrorIs(t, err, domain.ErrKeyFormat)
	assert.Equal(t, handshake.StateFailed, h.State())
}

func TestHandshake_OutOfOrderFrameFailsClosed(t *testing.T) {
	client, server := connPair(t)
	ck := newKeys(t)

	// The "client" skips its public key and opens with a hash frame.
	go scriptedPeer(client, []byte(crypto.B64(crypto.Hash([]byte("x")))))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := handshake.Accept(ctx, server, ck, handshake.WithLogger(quietLogger()))
	require.ErrorIs(t, err, domain.ErrHandshake)
}

func TestHandshake_PeerDisconnects(t *testing.T) {
	client, server := connPair(t)

	go func() {
		_, _ = server.ReadFrame()
		_ = server.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := handshake.Initiate(ctx, client, newKeys(t), handshake.WithLogger(quietLogger()))
	require.ErrorIs(t, err, domain.ErrHandshake)
	assert.Contains(t, err.Error(), "disconnected")
}

func TestHandshake_UnexpectedStatus(t *testing.T) {
	client, server := connPair(t)
	sk := newKeys(t)

	go func() {
		if _, err := server.ReadFrame(); err != nil {
			return
		}
		if err := server.WriteFrame(sk.ExportPublicKey()); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			if _, err := server.ReadFrame(); err != nil {
				return
			}
		}
		_ = server.WriteFrame([]byte("MAYBE"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key, err := handshake.Initiate(ctx, client, newKeys(t), handshake.WithLogger(quietLogger()))
	require.ErrorIs(t, err, domain.ErrHandshake)
	assert.Contains(t, err.Error(), "MAYBE")
	assert.Nil(t, key)
}

func TestHandshake_CancelUnblocksRead(t *testing.T) {
	_, server := connPair(t)
	keys := newKeys(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := handshake.Accept(ctx, server, keys, handshake.WithLogger(quietLogger()))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrHandshake)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not observe cancellation")
	}
}

func TestHandshake_RunsOnce(t *testing.T) {
	client, server := connPair(t)
	ck, sk := newKeys(t), newKeys(t)
	ch, cr, _, sr := run(t, client, server, ck, sk)
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	_, err := ch.Run(context.Background(), client)
	require.ErrorIs(t, err, domain.ErrHandshake)
	assert.Equal(t, handshake.StateVerified, ch.State())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[domain.Role]error
}

func (o *recordingObserver) HandshakeFinished(role domain.Role, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[role] = err
}

func TestHandshake_ObserverSeesOutcome(t *testing.T) {
	client, server := connPair(t)
	obs := &recordingObserver{calls: map[domain.Role]error{}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ck, sk := newKeys(t), newKeys(t)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = handshake.Initiate(ctx, client, ck, handshake.WithObserver(obs), handshake.WithLogger(quietLogger()))
	}()
	go func() {
		defer wg.Done()
		_, _ = handshake.Accept(ctx, server, sk, handshake.WithObserver(obs), handshake.WithLogger(quietLogger()))
	}()
	wg.Wait()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.calls, 2)
	assert.NoError(t, obs.calls[domain.RoleClient])
	assert.NoError(t, obs.calls[domain.RoleServer])
}
