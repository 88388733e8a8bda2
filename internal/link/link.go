// Package link is the host end of the controller connection. It frames
// command messages onto a byte transport, waits for each acknowledgement and
// verifies it against the message that was sent.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"ledstrip-controller/internal/protocol"
	"ledstrip-controller/internal/serial"
)

var (
	// ErrAckTimeout is returned when the controller does not acknowledge a
	// message in time.
	ErrAckTimeout = errors.New("acknowledgement timed out")
	// ErrClosed is returned after the link was closed.
	ErrClosed = errors.New("link closed")
)

// idlePoll is the pause after a read that returned no data.
const idlePoll = 10 * time.Millisecond

// Config tunes a Link.
type Config struct {
	// HostName is sent in the handshake.
	HostName string
	// AckTimeout bounds the wait for each acknowledgement.
	AckTimeout time.Duration
	// HelloTimeout bounds the wait for the handshake reply.
	HelloTimeout time.Duration
	// Rate and Burst pace outgoing messages.
	Rate  float64
	Burst int
	// OnDebug receives the controller's diagnostic lines. Nil logs them.
	OnDebug func(line string)
}

// DefaultConfig returns a configuration suited to a USB serial link.
func DefaultConfig() Config {
	return Config{
		HostName:     "host",
		AckTimeout:   time.Second,
		HelloTimeout: 3 * time.Second,
		Rate:         200,
		Burst:        10,
	}
}

// Link carries messages to one controller. Send is safe for concurrent use
// but only one message is ever outstanding.
type Link struct {
	rwc     io.ReadWriteCloser
	writer  *serial.Writer
	limiter *rate.Limiter
	cfg     Config

	sendMu sync.Mutex
	acks   chan []byte
	hellos chan string

	nameMu sync.RWMutex
	name   string

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// New starts a link over rwc. The link owns rwc and closes it on Close.
func New(rwc io.ReadWriteCloser, cfg Config) *Link {
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = def.HelloTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.HostName == "" {
		cfg.HostName = def.HostName
	}

	l := &Link{
		rwc:     rwc,
		writer:  serial.NewWriter(rwc),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:     cfg,
		acks:    make(chan []byte, 1),
		hellos:  make(chan string, 1),
		done:    make(chan struct{}),
	}

	go l.readLoop()
	return l
}

// Handshake announces the host and waits for the controller's name.
func (l *Link) Handshake(ctx context.Context) (string, error) {
	drain(l.hellos)

	if err := l.writer.WriteFrame(serial.KindHello, []byte(l.cfg.HostName)); err != nil {
		l.shutdown(err)
		return "", err
	}

	timer := time.NewTimer(l.cfg.HelloTimeout)
	defer timer.Stop()

	select {
	case name := <-l.hellos:
		return name, nil
	case <-timer.C:
		return "", fmt.Errorf("handshake: no reply within %s", l.cfg.HelloTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", l.Err()
	}
}

// Name returns the name the controller last announced.
func (l *Link) Name() string {
	l.nameMu.RLock()
	defer l.nameMu.RUnlock()
	return l.name
}

// Send writes one message and waits for its acknowledgement. A returned
// *protocol.AckMismatchError carries the acknowledgement that was received.
func (l *Link) Send(ctx context.Context, msg []byte) (protocol.Response, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if err := l.limiter.Wait(ctx); err != nil {
		return protocol.Response{}, err
	}

	select {
	case <-l.done:
		return protocol.Response{}, l.Err()
	default:
	}

	// Late acknowledgements of timed out messages must not be matched
	// against this one.
	drain(l.acks)

	if err := l.writer.WriteFrame(serial.KindData, msg); err != nil {
		l.shutdown(err)
		return protocol.Response{}, err
	}

	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case payload := <-l.acks:
		ack, err := protocol.ParseResponse(payload)
		if err != nil {
			return protocol.Response{}, err
		}
		return ack, protocol.Verify(msg, ack)
	case <-timer.C:
		return protocol.Response{}, ErrAckTimeout
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-l.done:
		return protocol.Response{}, l.Err()
	}
}

// Done is closed when the link stops.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns why the link stopped, or nil while it runs.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Close stops the link and closes the transport.
func (l *Link) Close() error {
	l.shutdown(ErrClosed)
	return nil
}

func (l *Link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.done)
		if cerr := l.rwc.Close(); cerr != nil {
			log.Debug().Str("component", "link").Err(cerr).Msg("Close transport")
		}
	})
}

func (l *Link) readLoop() {
	r := serial.NewReader(l.rwc)

	for {
		f, err := r.ReadFrame()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}

			switch {
			case errors.Is(err, io.EOF):
				time.Sleep(idlePoll)
				continue
			case serial.IsFramingError(err):
				log.Warn().Str("component", "link").Err(err).Msg("Dropped damaged frame")
				continue
			}

			log.Error().Str("component", "link").Err(err).Msg("Transport failed")
			l.shutdown(fmt.Errorf("read transport: %w", err))
			return
		}

		switch f.Kind {
		case serial.KindData:
			select {
			case l.acks <- f.Payload:
			default:
				log.Warn().Str("component", "link").Hex("ack", f.Payload).Msg("Unexpected acknowledgement")
			}
		case serial.KindDebug:
			if l.cfg.OnDebug != nil {
				l.cfg.OnDebug(string(f.Payload))
			} else {
				log.Debug().Str("component", "device").Msg(string(f.Payload))
			}
		case serial.KindHello:
			name := string(f.Payload)
			l.nameMu.Lock()
			l.name = name
			l.nameMu.Unlock()
			log.Info().Str("component", "link").Str("device", name).Msg("Controller announced")
			select {
			case l.hellos <- name:
			default:
			}
		}
	}
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
