package commands

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechat/internal/app"
	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/services/connection"
)

const waitFor = 10 * time.Second

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testWire(t *testing.T) *app.Wire {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := app.Load(app.NewViper(), "")
	require.NoError(t, err)
	cfg.Log.Level = "error"
	w, err := app.NewWire(cfg, io.Discard)
	require.NoError(t, err)
	return w
}

// listeningPeer starts a server-side connection and returns it once it
// accepts on an ephemeral port.
func listeningPeer(t *testing.T, w *app.Wire, received chan<- string) (*connection.Service, int, <-chan error) {
	t.Helper()
	svc, err := w.NewConnection(connection.Events{
		OnMessage: func(text string) { received <- text },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })

	done := make(chan error, 1)
	go func() { done <- svc.StartConnection(context.Background(), "server", "127.0.0.1", 0) }()
	require.Eventually(t, func() bool { return svc.ListenAddr() != nil }, waitFor, 5*time.Millisecond)
	return svc, svc.ListenAddr().(*net.TCPAddr).Port, done
}

func TestRunChat_RelaysBothWays(t *testing.T) {
	w := testWire(t)
	received := make(chan string, 4)
	peer, port, peerDone := listeningPeer(t, w, received)

	inR, inW := io.Pipe()
	var out syncBuffer
	chatDone := make(chan error, 1)
	go func() {
		chatDone <- runChat(context.Background(), w, domain.RoleClient, "127.0.0.1", port, inR, &out)
	}()
	require.NoError(t, <-peerDone)

	_, err := io.WriteString(inW, "hello\n\n   \nsecond line\r\n")
	require.NoError(t, err)
	for _, want := range []string{"hello", "second line"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(waitFor):
			t.Fatalf("peer did not receive %q", want)
		}
	}

	require.NoError(t, peer.SendMessage("hi back"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[peer] hi back")
	}, waitFor, 5*time.Millisecond)
	assert.Contains(t, out.String(), "Connected.")
	assert.Contains(t, out.String(), string(peer.LocalFingerprint()))

	require.NoError(t, inW.Close())
	select {
	case err := <-chatDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("chat did not end on end of input")
	}
	assert.Contains(t, out.String(), "Connection closed.")
	require.Eventually(t, func() bool { return peer.State() == domain.StateClosed }, waitFor, 5*time.Millisecond)
}

func TestRunChat_PeerLeaving(t *testing.T) {
	w := testWire(t)
	peer, port, peerDone := listeningPeer(t, w, make(chan string, 1))

	inR, _ := io.Pipe()
	var out syncBuffer
	chatDone := make(chan error, 1)
	go func() {
		chatDone <- runChat(context.Background(), w, domain.RoleClient, "127.0.0.1", port, inR, &out)
	}()
	require.NoError(t, <-peerDone)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Connected.") }, waitFor, 5*time.Millisecond)

	require.NoError(t, peer.Stop())
	select {
	case err := <-chatDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("chat did not end when the peer left")
	}
}

func TestRunChat_CancelStops(t *testing.T) {
	w := testWire(t)
	_, port, peerDone := listeningPeer(t, w, make(chan string, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inR, _ := io.Pipe()
	var out syncBuffer
	chatDone := make(chan error, 1)
	go func() {
		chatDone <- runChat(ctx, w, domain.RoleClient, "127.0.0.1", port, inR, &out)
	}()
	require.NoError(t, <-peerDone)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Connected.") }, waitFor, 5*time.Millisecond)

	cancel()
	select {
	case err := <-chatDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("chat ignored cancellation")
	}
}

func TestRunChat_CancelDuringHandshake(t *testing.T) {
	w := testWire(t)

	// A peer that accepts and never answers keeps the client handshaking.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	chatDone := make(chan error, 1)
	go func() {
		chatDone <- runChat(ctx, w, domain.RoleClient, "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, strings.NewReader(""), &out)
	}()

	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(waitFor):
		t.Fatal("client never connected")
	}
	cancel()

	select {
	case err := <-chatDone:
		require.ErrorIs(t, err, domain.ErrChannelClosed)
	case <-time.After(waitFor):
		t.Fatal("chat ignored cancellation during the handshake")
	}
	assert.NotContains(t, out.String(), "Connected.")
	assert.Contains(t, out.String(), "Connection closed.")
}

func TestRunChat_DialFailure(t *testing.T) {
	w := testWire(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = runChat(context.Background(), w, domain.RoleClient, "127.0.0.1", port, strings.NewReader(""), io.Discard)
	require.ErrorIs(t, err, domain.ErrTransport)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFingerprintCmd_FreshKey(t *testing.T) {
	out, err := runCLI(t, "fingerprint", "--log-level", "error")
	require.NoError(t, err)
	assert.Regexp(t, `Fingerprint: [0-9a-f]{20}\n`, out)
	assert.Contains(t, out, "Public key:")
}

func TestFingerprintCmd_FromFile(t *testing.T) {
	keys, err := crypto.GenerateKeyPair(0)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "peer.pub")
	require.NoError(t, os.WriteFile(file, append(keys.ExportPublicKey(), '\n'), 0o600))

	out, err := runCLI(t, "fingerprint", file)
	require.NoError(t, err)
	assert.Equal(t, "Fingerprint: "+string(keys.Fingerprint())+"\n", out)
}

func TestFingerprintCmd_RejectsGarbage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "junk.pub")
	require.NoError(t, os.WriteFile(file, []byte("not a key"), 0o600))

	_, err := runCLI(t, "fingerprint", file)
	require.ErrorIs(t, err, domain.ErrKeyFormat)
}

func TestRoot_InvalidFlagValue(t *testing.T) {
	_, err := runCLI(t, "fingerprint", "--cipher", "rot13")
	require.Error(t, err)
}
