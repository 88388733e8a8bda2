// Package controller runs the resident device loop: it reads framed command
// messages from the port, dispatches them against the framebuffer, latches
// the framebuffer onto the strip on request and acknowledges every message.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/dispatch"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/led"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/serial"
)

// DefaultName is announced in the handshake when none is configured.
const DefaultName = "ledstrip"

// Stats counts what the loop has processed.
type Stats struct {
	Messages      int
	Rejected      int
	Refreshes     int
	FramingErrors int
	Resyncs       int // partial frames cut short by a new start marker
	DriverErrors  int
}

// Controller owns the framebuffer, the dispatcher and the driver.
type Controller struct {
	name       string
	reader     *serial.Reader
	writer     *serial.Writer
	dispatcher *dispatch.Dispatcher
	fb         *framebuffer.Framebuffer
	driver     led.Driver

	mu    sync.Mutex
	stats Stats
}

// New creates a controller speaking on port. Diagnostics from the
// dispatcher are logged and forwarded to the host as debug frames; opts can
// set the segment check and batch policy.
func New(name string, port io.ReadWriter, p *profile.Profile, driver led.Driver, opts ...dispatch.Option) (*Controller, error) {
	if name == "" {
		name = DefaultName
	}
	if port == nil || driver == nil {
		return nil, fmt.Errorf("port and driver are required")
	}

	c := &Controller{
		name:   name,
		reader: serial.NewReader(port),
		writer: serial.NewWriter(port),
		fb:     framebuffer.New(p.Addressable()),
		driver: driver,
	}

	opts = append(opts, dispatch.WithDiagnostics(dispatch.DiagnosticsFunc(c.debugToHost)))
	d, err := dispatch.New(p, c.fb, opts...)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	c.dispatcher = d

	return c, nil
}

// Name returns the announced device name.
func (c *Controller) Name() string { return c.name }

// Framebuffer returns the framebuffer. It must not be written while Run is
// active.
func (c *Controller) Framebuffer() *framebuffer.Framebuffer { return c.fb }

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run announces the device and processes messages until ctx is done or the
// port fails. A read that returns io.EOF is an idle poll.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Str("component", "controller").Str("name", c.name).
		Str("profile", c.dispatcher.Profile().String()).Msg("Controller started")

	if err := c.announce(); err != nil {
		return err
	}

	resyncs := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := c.reader.ReadFrame()
		if n := c.reader.Resyncs(); n != resyncs {
			resyncs = n
			c.count(func(s *Stats) { s.Resyncs = n })
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			if serial.IsFramingError(err) {
				c.count(func(s *Stats) { s.FramingErrors++ })
				log.Warn().Str("component", "controller").Err(err).Msg("Dropped damaged frame")
				continue
			}
			return fmt.Errorf("read port: %w", err)
		}

		if err := c.handle(f); err != nil {
			return err
		}
	}
}

func (c *Controller) handle(f serial.Frame) error {
	switch f.Kind {
	case serial.KindData:
		return c.process(f.Payload)
	case serial.KindHello:
		log.Info().Str("component", "controller").Str("host", string(f.Payload)).Msg("Host connected")
		return c.announce()
	default:
		log.Debug().Str("component", "controller").Stringer("kind", f.Kind).Msg("Ignoring frame")
		return nil
	}
}

// process dispatches one message, refreshes the strip when asked and then
// acknowledges it.
func (c *Controller) process(msg []byte) error {
	res := c.dispatcher.Dispatch(msg)

	c.count(func(s *Stats) {
		s.Messages++
		if res.Err != nil {
			s.Rejected++
		}
	})

	if res.Refresh {
		c.refresh()
	}

	if err := c.writer.WriteFrame(serial.KindData, res.Response.Bytes()); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// refresh copies every pixel into the driver and latches it. Driver errors
// are logged; the loop keeps running.
func (c *Controller) refresh() {
	c.fb.Each(func(i int, col framebuffer.Color) {
		c.driver.SetPixel(i, col.R, col.G, col.B)
	})
	if err := c.driver.Show(); err != nil {
		c.count(func(s *Stats) { s.DriverErrors++ })
		log.Error().Str("component", "controller").Err(err).Msg("Failed to show frame")
		return
	}
	c.count(func(s *Stats) { s.Refreshes++ })
}

func (c *Controller) announce() error {
	if err := c.writer.WriteFrame(serial.KindHello, []byte(c.name)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	return nil
}

// debugToHost logs a diagnostic and forwards it as a debug frame. Send
// failures are ignored.
func (c *Controller) debugToHost(msg string) {
	log.Debug().Str("component", "dispatch").Msg(msg)
	_ = c.writer.WriteFrame(serial.KindDebug, []byte(msg))
}

func (c *Controller) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
