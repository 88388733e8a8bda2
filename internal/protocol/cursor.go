package protocol

import (
	"encoding/binary"

	"ledstrip-controller/internal/framebuffer"
)

// Cursor reads fields left to right from a payload and refuses to read past
// its end.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.pos }

func (c *Cursor) take(n int) ([]byte, error) {
	if c.Remaining() < n {
		return nil, ErrShortPayload
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// Uint16 reads a big-endian 16-bit value.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Color reads an R, G, B triple.
func (c *Cursor) Color() (framebuffer.Color, error) {
	b, err := c.take(ColorSize)
	if err != nil {
		return framebuffer.Color{}, err
	}
	return framebuffer.Color{R: b[0], G: b[1], B: b[2]}, nil
}
