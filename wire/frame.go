package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kbukum/brokersec/negotiation"
)

// HeaderSize is the frame header: one type byte and a big-endian uint32
// payload length.
const HeaderSize = 5

// DefaultMaxFrameSize bounds a frame payload.
const DefaultMaxFrameSize = 64 * 1024

// FrameType identifies a negotiation frame.
type FrameType byte

const (
	FrameMechanisms FrameType = iota + 1
	FrameInit
	FrameChallenge
	FrameResponse
	FrameOutcome
)

func (t FrameType) String() string {
	switch t {
	case FrameMechanisms:
		return "mechanisms"
	case FrameInit:
		return "init"
	case FrameChallenge:
		return "challenge"
	case FrameResponse:
		return "response"
	case FrameOutcome:
		return "outcome"
	default:
		return fmt.Sprintf("frame(%d)", byte(t))
	}
}

// Frame errors wrap negotiation.ErrProtocolViolation.
var (
	// ErrFrameTooLarge is returned for a payload above the configured limit.
	ErrFrameTooLarge error = protocolError("wire: frame too large")
	// ErrUnexpectedFrame is returned when the peer sends the wrong frame type.
	ErrUnexpectedFrame error = protocolError("wire: unexpected frame")
	// ErrMalformed is returned for a payload that does not decode.
	ErrMalformed error = protocolError("wire: malformed frame")
)

type protocolError string

func (e protocolError) Error() string { return string(e) }

func (protocolError) Unwrap() error { return negotiation.ErrProtocolViolation }

// Frame is one decoded frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes f as a single header+payload write.
func WriteFrame(w io.Writer, f Frame, maxSize int) error {
	if len(f.Payload) > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame, refusing payloads above maxSize before
// allocating them.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if uint64(n) > uint64(maxSize) {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Type: FrameType(hdr[0]), Payload: payload}, nil
}
