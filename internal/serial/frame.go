// Package serial carries command messages over a byte stream.
//
// Every frame is delimited by StartMarker and EndMarker. Bytes that collide
// with the markers are escaped as EscapeMarker followed by their distance
// from EscapeMarker. The first unescaped byte of a frame is its Kind.
//
//	0xFE kind payload... 0xFF
package serial

import (
	"errors"
	"fmt"

	"ledstrip-controller/internal/protocol"
)

const (
	StartMarker  byte = 0xFE
	EndMarker    byte = 0xFF
	EscapeMarker byte = 0xFD
)

// MaxFrameSize bounds the decoded frame: one kind byte plus the largest
// message.
const MaxFrameSize = 1 + protocol.MaxMessageSize

// Kind identifies what a frame carries.
type Kind byte

const (
	// KindData carries a command message host to controller and a response
	// controller to host.
	KindData Kind = 0x00
	// KindDebug carries one diagnostic line to the host.
	KindDebug Kind = 0x01
	// KindHello opens a connection. The controller answers with its name.
	KindHello Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindDebug:
		return "debug"
	case KindHello:
		return "hello"
	default:
		return fmt.Sprintf("kind(0x%02X)", byte(k))
	}
}

// Frame is one decoded frame.
type Frame struct {
	Kind    Kind
	Payload []byte
}

var (
	// ErrEmptyFrame is returned for a frame with no kind byte.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// EscapeError reports an escape byte followed by an invalid value.
type EscapeError struct {
	Value byte
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("invalid escape value 0x%02X", e.Value)
}

// Encode frames payload under kind.
func Encode(kind Kind, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, StartMarker)
	out = appendEscaped(out, byte(kind))
	for _, b := range payload {
		out = appendEscaped(out, b)
	}
	return append(out, EndMarker)
}

func appendEscaped(out []byte, b byte) []byte {
	if b >= EscapeMarker {
		return append(out, EscapeMarker, b-EscapeMarker)
	}
	return append(out, b)
}

// Decoder reassembles frames from a byte stream. Bytes outside a frame are
// ignored. A start marker inside a frame discards the partial frame.
type Decoder struct {
	buf      []byte
	inFrame  bool
	escaping bool
	max      int

	// Resyncs counts partial frames discarded by a new start marker.
	Resyncs int
}

// NewDecoder creates a decoder for frames up to max decoded bytes. A
// non-positive max selects MaxFrameSize.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &Decoder{max: max}
}

// Feed consumes one byte. It returns a frame when b completes one.
func (d *Decoder) Feed(b byte) (Frame, bool, error) {
	switch {
	case b == StartMarker:
		if d.inFrame {
			d.Resyncs++
		}
		d.reset()
		d.inFrame = true
		return Frame{}, false, nil

	case !d.inFrame:
		return Frame{}, false, nil

	case b == EndMarker:
		if d.escaping {
			d.reset()
			return Frame{}, false, &EscapeError{Value: b}
		}
		buf := d.buf
		d.reset()
		if len(buf) == 0 {
			return Frame{}, false, ErrEmptyFrame
		}
		payload := make([]byte, len(buf)-1)
		copy(payload, buf[1:])
		return Frame{Kind: Kind(buf[0]), Payload: payload}, true, nil

	case d.escaping:
		d.escaping = false
		if b > EndMarker-EscapeMarker {
			d.reset()
			return Frame{}, false, &EscapeError{Value: b}
		}
		return d.push(b + EscapeMarker)

	case b == EscapeMarker:
		d.escaping = true
		return Frame{}, false, nil

	default:
		return d.push(b)
	}
}

func (d *Decoder) push(b byte) (Frame, bool, error) {
	if len(d.buf) >= d.max {
		d.reset()
		return Frame{}, false, ErrFrameTooLarge
	}
	d.buf = append(d.buf, b)
	return Frame{}, false, nil
}

func (d *Decoder) reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
	d.escaping = false
}

// IsFramingError reports whether err describes a damaged frame rather than
// a transport failure. The stream remains usable after a framing error.
func IsFramingError(err error) bool {
	var escErr *EscapeError
	return errors.Is(err, ErrEmptyFrame) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.As(err, &escErr)
}
