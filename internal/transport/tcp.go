package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"safechat/internal/domain"
)

// Dial opens an outbound TCP connection. Cancelling ctx aborts the attempt.
func Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %v", domain.ErrTransport, host, port, err)
	}
	return c, nil
}

// Listener accepts inbound TCP connections.
type Listener struct {
	ln        net.Listener
	closeOnce sync.Once
	closeErr  error
}

// Listen binds host:port. Port 0 picks a free port; see Addr.
func Listen(ctx context.Context, host string, port int) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s:%d: %v", domain.ErrTransport, host, port, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for one inbound connection. Cancelling ctx or closing the
// listener unblocks it.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: accept: %v", domain.ErrTransport, ctxErr)
		}
		return nil, fmt.Errorf("%w: accept: %v", domain.ErrTransport, err)
	}
	return c, nil
}

// Close stops listening. It is idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { l.closeErr = l.ln.Close() })
	return l.closeErr
}
