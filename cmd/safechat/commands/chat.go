package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"safechat/internal/app"
	"safechat/internal/domain"
	"safechat/internal/services/connection"
)

var errNoPort = errors.New("--port required to dial")

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// printer serialises writes from the event goroutine and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// runChat connects as role and relays lines between in and the peer until
// the connection closes, in ends, or ctx is cancelled.
func runChat(ctx context.Context, w *app.Wire, role domain.Role, host string, port int, in io.Reader, out io.Writer) error {
	p := &printer{out: out}
	closed := make(chan struct{})

	var svc *connection.Service
	svc, err := w.NewConnection(connection.Events{
		OnEstablished: func() {
			p.printf("Connected. Your fingerprint: %s  Peer fingerprint: %s\n",
				svc.LocalFingerprint(), svc.PeerFingerprint())
		},
		OnMessage: func(text string) {
			p.printf("[peer] %s\n", text)
		},
		OnClosed: func() {
			p.printf("Connection closed.\n")
			close(closed)
		},
	})
	if err != nil {
		return err
	}

	go func() {
		if err := w.ServeMetrics(ctx); err != nil {
			w.Logger.WithError(err).Warn("metrics endpoint unavailable")
		}
	}()
	defer context.AfterFunc(ctx, func() { _ = svc.Stop() })()

	if role == domain.RoleServer {
		p.printf("Waiting for a peer on %s:%d ...\n", host, port)
	}
	if err := svc.StartConnection(ctx, role.String(), host, port); err != nil {
		if svc.State().Terminal() {
			<-closed
		}
		return err
	}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := svc.SendMessage(line); err != nil {
				if errors.Is(err, domain.ErrChannelNotEstablished) {
					return
				}
				p.printf("send failed: %v\n", err)
			}
		}
		_ = svc.Stop()
	}()

	<-closed
	return nil
}
