package wire

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kbukum/brokersec/errors"
)

// Option configures a Conn.
type Option func(*Conn)

// WithMaxFrameSize sets the payload limit. Defaults to DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// Conn speaks the reference negotiation framing over a net.Conn. The
// server side implements negotiation.FrameConn; the client side methods
// are used by reference clients and tests.
//
// Every call honours ctx: its deadline becomes the connection deadline
// and cancellation interrupts blocked reads and writes.
type Conn struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int
}

// NewConn wraps c.
func NewConn(c net.Conn, opts ...Option) *Conn {
	wc := &Conn{conn: c, r: bufio.NewReader(c), maxFrame: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(wc)
	}
	return wc
}

// NetConn returns the underlying connection.
func (c *Conn) NetConn() net.Conn { return c.conn }

// --- server side ---

// SendMechanisms implements negotiation.FrameConn.
func (c *Conn) SendMechanisms(ctx context.Context, names []string) error {
	return c.write(ctx, Frame{Type: FrameMechanisms, Payload: encodeMechanisms(names)})
}

// ReadInit implements negotiation.FrameConn.
func (c *Conn) ReadInit(ctx context.Context) (string, []byte, error) {
	f, err := c.expect(ctx, FrameInit)
	if err != nil {
		return "", nil, err
	}
	return decodeInit(f.Payload)
}

// SendChallenge implements negotiation.FrameConn.
func (c *Conn) SendChallenge(ctx context.Context, challenge []byte) error {
	return c.write(ctx, Frame{Type: FrameChallenge, Payload: challenge})
}

// ReadResponse implements negotiation.FrameConn.
func (c *Conn) ReadResponse(ctx context.Context) ([]byte, error) {
	f, err := c.expect(ctx, FrameResponse)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// SendOutcome implements negotiation.FrameConn. Failures carry the error
// code and its peer-safe message only.
func (c *Conn) SendOutcome(ctx context.Context, err error) error {
	o := Outcome{OK: err == nil}
	if err != nil {
		o.Code = string(errors.ErrCodeAuthenticationRejected)
		o.Message = "Authentication failed."
		if appErr, ok := errors.AsAppError(err); ok {
			o.Code = string(appErr.Code)
			o.Message = appErr.Message
		}
	}
	return c.write(ctx, Frame{Type: FrameOutcome, Payload: encodeOutcome(o)})
}

// --- client side ---

// ReadMechanisms reads the advertised mechanism names.
func (c *Conn) ReadMechanisms(ctx context.Context) ([]string, error) {
	f, err := c.expect(ctx, FrameMechanisms)
	if err != nil {
		return nil, err
	}
	return decodeMechanisms(f.Payload), nil
}

// SendInit selects a mechanism. A nil initial response is sent as absent.
func (c *Conn) SendInit(ctx context.Context, name string, initial []byte) error {
	p, err := encodeInit(name, initial)
	if err != nil {
		return err
	}
	return c.write(ctx, Frame{Type: FrameInit, Payload: p})
}

// SendResponse answers a challenge.
func (c *Conn) SendResponse(ctx context.Context, resp []byte) error {
	return c.write(ctx, Frame{Type: FrameResponse, Payload: resp})
}

// ReadChallengeOrOutcome reads the server's next frame: a challenge (the
// Outcome is nil) or the final outcome.
func (c *Conn) ReadChallengeOrOutcome(ctx context.Context) ([]byte, *Outcome, error) {
	f, err := c.read(ctx)
	if err != nil {
		return nil, nil, err
	}
	switch f.Type {
	case FrameChallenge:
		return f.Payload, nil, nil
	case FrameOutcome:
		o, err := decodeOutcome(f.Payload)
		if err != nil {
			return nil, nil, err
		}
		return nil, &o, nil
	default:
		return nil, nil, fmt.Errorf("%w: got %s", ErrUnexpectedFrame, f.Type)
	}
}

// --- plumbing ---

func (c *Conn) expect(ctx context.Context, want FrameType) (Frame, error) {
	f, err := c.read(ctx)
	if err != nil {
		return Frame{}, err
	}
	if f.Type != want {
		return Frame{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, f.Type, want)
	}
	return f, nil
}

func (c *Conn) read(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.withContext(ctx, func() error {
		var err error
		f, err = ReadFrame(c.r, c.maxFrame)
		return err
	})
	return f, err
}

func (c *Conn) write(ctx context.Context, f Frame) error {
	return c.withContext(ctx, func() error {
		return WriteFrame(c.conn, f, c.maxFrame)
	})
}

// withContext runs fn with the connection deadline tied to ctx.
func (c *Conn) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	err := fn()
	if !stop() {
		<-fired
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if hasDeadline && stderrors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}
