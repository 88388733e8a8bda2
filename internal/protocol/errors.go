package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrShortPayload is returned when a read would run past the payload end.
var ErrShortPayload = errors.New("payload too short")

// LengthMismatchError reports a message whose length does not match its
// opcode's formula. The command is dropped.
type LengthMismatchError struct {
	Opcode Opcode
	Got    int
	Want   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%d bytes received, %d expected", e.Got, e.Want)
}

// UnknownOpcodeError reports an unrecognised opcode tag.
type UnknownOpcodeError struct {
	Tag string
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("invalid command '%s'", e.Tag)
}

// OutOfRangeError reports an LED id beyond the framebuffer.
type OutOfRangeError struct {
	Index int
	Limit int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("LED %d out of range: valid range is 0-%d", e.Index, e.Limit-1)
}

// SegmentGapError reports an LED id that falls in the padding after a
// segment and so has no physical LED.
type SegmentGapError struct {
	Index    int
	Segment  int
	Position int
	Length   int
}

func (e *SegmentGapError) Error() string {
	return fmt.Sprintf("LED %d is position %d of segment %d, which has %d LEDs",
		e.Index, e.Position, e.Segment, e.Length)
}

// IndexErrors collects the rejected ids of one batch message.
type IndexErrors []error

func (e IndexErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d LED writes rejected: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e IndexErrors) Unwrap() []error { return e }

// AckMismatchError reports an acknowledgement that does not match the
// message the host sent, which indicates transport corruption.
type AckMismatchError struct {
	Sent     Response
	Received Response
}

func (e *AckMismatchError) Error() string {
	return fmt.Sprintf("acknowledgement mismatch: sent %s, controller received %s", e.Sent, e.Received)
}

// IsAckMismatch returns true if the error is an AckMismatchError.
func IsAckMismatch(err error) bool {
	var target *AckMismatchError
	return errors.As(err, &target)
}
