package serial

import (
	"fmt"
	"io"
	"sync"
)

// Reader decodes frames from an underlying reader. Partial frames survive
// across ReadFrame calls, so a read timeout in the middle of a frame loses
// nothing.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	buf     []byte
	pending []byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		dec: NewDecoder(0),
		buf: make([]byte, 256),
	}
}

// ReadFrame returns the next complete frame. Errors from the underlying
// reader are returned unchanged, including io.EOF on a read timeout.
// Framing errors drop the damaged frame and are returned so the caller can
// report them; the next call continues with the following bytes.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		for len(r.pending) > 0 {
			b := r.pending[0]
			r.pending = r.pending[1:]

			f, ok, err := r.dec.Feed(b)
			if err != nil {
				return Frame{}, err
			}
			if ok {
				return f, nil
			}
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.pending = r.buf[:n]
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}

// Resyncs returns how many partial frames were discarded so far.
func (r *Reader) Resyncs() int { return r.dec.Resyncs }

// Writer encodes frames onto an underlying writer. It is safe for
// concurrent use; each frame is written with a single Write call.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes and writes one frame.
func (w *Writer) WriteFrame(kind Kind, payload []byte) error {
	frame := Encode(kind, payload)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	return nil
}
