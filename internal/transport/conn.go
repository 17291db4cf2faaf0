package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	msgio "github.com/libp2p/go-msgio"

	"safechat/internal/domain"
)

// DefaultMaxFrameSize bounds a single frame.
const DefaultMaxFrameSize = 1 << 20

// Conn carries length-prefixed frames over a net.Conn.
//
// Reads must come from a single goroutine. Writes are serialised internally.
// Close is idempotent and may be called concurrently with a blocked read,
// which then returns an error.
type Conn struct {
	raw net.Conn
	r   msgio.ReadCloser
	w   msgio.WriteCloser

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewConn wraps c. A non-positive maxFrame selects DefaultMaxFrameSize.
func NewConn(c net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Conn{
		raw:    c,
		r:      msgio.NewReaderSize(c, maxFrame),
		w:      msgio.NewWriter(c),
		closed: make(chan struct{}),
	}
}

// ReadFrame blocks until a whole frame has arrived. It returns io.EOF when
// the peer closed the stream cleanly between frames.
func (c *Conn) ReadFrame() ([]byte, error) {
	msg, err := c.r.ReadMsg()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if c.isClosed() {
			return nil, domain.ErrChannelClosed
		}
		return nil, fmt.Errorf("%w: read frame: %v", domain.ErrTransport, err)
	}
	frame := append([]byte(nil), msg...)
	c.r.ReleaseMsg(msg)
	return frame, nil
}

// WriteFrame writes one frame.
func (c *Conn) WriteFrame(frame []byte) error {
	if c.isClosed() {
		return domain.ErrChannelClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.w.WriteMsg(frame); err != nil {
		return fmt.Errorf("%w: write frame: %v", domain.ErrTransport, err)
	}
	return nil
}

// SetDeadline sets read and write deadlines on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error { return c.raw.SetDeadline(t) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close closes the underlying connection once; later calls return the
// first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var _ domain.FrameReadWriter = (*Conn)(nil)
