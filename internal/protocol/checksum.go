package protocol

import (
	"encoding/binary"
	"fmt"
)

// Checksum is the unsigned 32-bit sum of every byte in msg.
func Checksum(msg []byte) uint32 {
	var sum uint32
	for _, b := range msg {
		sum += uint32(b)
	}
	return sum
}

// Response is the acknowledgement sent after every message.
type Response struct {
	// Length is the number of bytes received.
	Length uint16 `json:"length"`

	// Checksum is the byte sum of the received message.
	Checksum uint32 `json:"checksum"`
}

// NewResponse computes the acknowledgement for a received message. Lengths
// beyond MaxMessageSize saturate instead of wrapping.
func NewResponse(msg []byte) Response {
	return Response{
		Length:   uint16(min(len(msg), MaxMessageSize)),
		Checksum: Checksum(msg),
	}
}

// Bytes encodes the response in its 6-byte wire form.
func (r Response) Bytes() []byte {
	out := make([]byte, ResponseSize)
	binary.BigEndian.PutUint16(out[0:2], r.Length)
	binary.BigEndian.PutUint32(out[2:6], r.Checksum)
	return out
}

func (r Response) String() string {
	return fmt.Sprintf("len=%d sum=%d", r.Length, r.Checksum)
}

// ParseResponse decodes a 6-byte acknowledgement.
func ParseResponse(b []byte) (Response, error) {
	if len(b) != ResponseSize {
		return Response{}, fmt.Errorf("invalid response length: got %d bytes, expected %d", len(b), ResponseSize)
	}
	return Response{
		Length:   binary.BigEndian.Uint16(b[0:2]),
		Checksum: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// Verify checks an acknowledgement against the message that was sent.
func Verify(sent []byte, ack Response) error {
	want := NewResponse(sent)
	if ack != want {
		return &AckMismatchError{Sent: want, Received: ack}
	}
	return nil
}
