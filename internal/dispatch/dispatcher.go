// Package dispatch interprets command messages and applies them to the
// framebuffer.
//
// A Dispatcher processes one complete message per call: it validates the
// length against the opcode's formula, routes the payload to the matching
// handler, and always returns the acknowledgement for the bytes received.
// A command error never affects the next message.
package dispatch

import (
	"fmt"

	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/protocol"
)

// Result is the outcome of dispatching one message.
type Result struct {
	// Opcode is the message tag, empty when the message was too short.
	Opcode protocol.Opcode

	// Response is the acknowledgement for the received bytes. It is set
	// whether or not the command was accepted.
	Response protocol.Response

	// Refresh requests that the framebuffer be handed to the LED driver.
	Refresh bool

	// Applied is the number of pixels written.
	Applied int

	// Err is the command-level error, if any.
	Err error
}

// Dispatcher owns the framebuffer on behalf of the command handlers.
// It is not safe for concurrent use.
type Dispatcher struct {
	profile *profile.Profile
	fb      *framebuffer.Framebuffer
	config  Config
}

// New creates a Dispatcher writing into fb, which must be sized to the
// profile's addressable count.
func New(p *profile.Profile, fb *framebuffer.Framebuffer, opts ...Option) (*Dispatcher, error) {
	if p == nil || fb == nil {
		return nil, fmt.Errorf("profile and framebuffer are required")
	}
	if fb.Len() != p.Addressable() {
		return nil, fmt.Errorf("framebuffer has %d pixels, profile %s addresses %d", fb.Len(), p.Name, p.Addressable())
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dispatcher{profile: p, fb: fb, config: cfg}, nil
}

// Profile returns the device profile.
func (d *Dispatcher) Profile() *profile.Profile { return d.profile }

// Framebuffer returns the framebuffer the dispatcher writes into.
func (d *Dispatcher) Framebuffer() *framebuffer.Framebuffer { return d.fb }

// Dispatch processes one complete message.
func (d *Dispatcher) Dispatch(msg []byte) Result {
	res := Result{
		Opcode:   protocol.Opcode(protocol.Tag(msg)),
		Response: protocol.NewResponse(msg),
	}

	d.diagf("Command of length %d bytes received", len(msg))
	res.Applied, res.Refresh, res.Err = d.process(msg)
	d.diagf("Checksum: %d", res.Response.Checksum)

	return res
}

func (d *Dispatcher) process(msg []byte) (int, bool, error) {
	if len(msg) < protocol.OpcodeSize {
		err := &protocol.LengthMismatchError{Got: len(msg), Want: protocol.OpcodeSize}
		d.diag(err.Error())
		return 0, false, err
	}

	if len(msg) > protocol.MaxMessageSize {
		err := &protocol.LengthMismatchError{Opcode: protocol.Opcode(protocol.Tag(msg)), Got: len(msg), Want: protocol.MaxMessageSize}
		d.diag(err.Error())
		return 0, false, err
	}

	want, err := protocol.ExpectedLength(msg, d.fb.Len())
	if err != nil {
		d.diag(err.Error())
		return 0, false, err
	}

	op := protocol.Opcode(protocol.Tag(msg))
	if len(msg) != want {
		err := &protocol.LengthMismatchError{Opcode: op, Got: len(msg), Want: want}
		d.diag(err.Error())
		return 0, false, err
	}

	h := handlers[op]
	return h(d, protocol.NewCursor(msg[protocol.OpcodeSize:]))
}

func (d *Dispatcher) diag(msg string) {
	d.config.Diagnostics.Diagnostic(msg)
}

func (d *Dispatcher) diagf(format string, args ...interface{}) {
	d.diag(fmt.Sprintf(format, args...))
}
