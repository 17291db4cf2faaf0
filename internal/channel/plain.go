package channel

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"safechat/internal/domain"
)

// FrameConn is the transport a channel runs over.
type FrameConn interface {
	domain.FrameReadWriter
	Close() error
}

// Plain is a bare transport channel: each message is one UTF-8 frame.
type Plain struct {
	conn FrameConn
	log  logrus.FieldLogger
}

// NewPlain wraps conn. A nil logger selects the logrus standard logger.
func NewPlain(conn FrameConn, log logrus.FieldLogger) *Plain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Plain{conn: conn, log: log}
}

// Send writes text as one frame.
func (p *Plain) Send(text string) error {
	return p.conn.WriteFrame([]byte(text))
}

// Receive delivers inbound frames as text until the stream ends.
func (p *Plain) Receive(ctx context.Context, onMessage func(text string)) error {
	return p.receiveFrames(ctx, func(frame []byte) error {
		onMessage(string(frame))
		return nil
	})
}

// receiveFrames reads frames and passes them to handle until EOF, local
// close, cancellation, a read error, or handle failing. Orderly ends return
// nil.
func (p *Plain) receiveFrames(ctx context.Context, handle func(frame []byte) error) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	for {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.log.Debug("peer closed the stream")
				return nil
			case errors.Is(err, domain.ErrChannelClosed), ctx.Err() != nil:
				p.log.Debug("receive loop cancelled")
				return nil
			}
			return err
		}
		if err := handle(frame); err != nil {
			return err
		}
	}
}

// Close closes the transport, unblocking Receive.
func (p *Plain) Close() error {
	return p.conn.Close()
}

var _ domain.Channel = (*Plain)(nil)
