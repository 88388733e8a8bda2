package led

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// ErrClosed is returned by Show after Close.
var ErrClosed = errors.New("led driver closed")

// DefaultFreq is the NRZ bit rate of WS2812-class strips.
const DefaultFreq = 800 * physic.KiloHertz

// SPI drives a WS2812-class strip through an SPI port.
type SPI struct {
	mu sync.Mutex
	pixels
	dev  *nrzled.Dev
	port spi.Port
}

// OpenSPI initializes the host and opens the named SPI port ("" selects
// the first one).
func OpenSPI(device string, count int, freq physic.Frequency) (*SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", device, err)
	}
	s, err := NewSPI(port, count, freq)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return s, nil
}

// NewSPI creates a driver on an already opened port. Close closes the port
// when it implements spi.PortCloser.
func NewSPI(port spi.Port, count int, freq physic.Frequency) (*SPI, error) {
	p, err := newPixels(count)
	if err != nil {
		return nil, err
	}
	if freq <= 0 {
		freq = DefaultFreq
	}

	dev, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: count,
		Channels:  3,
		Freq:      freq,
	})
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}

	return &SPI{pixels: p, dev: dev, port: port}, nil
}

// SetPixel stages one pixel.
func (s *SPI) SetPixel(index int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixels.SetPixel(index, r, g, b)
}

// Show writes the staged frame to the strip.
func (s *SPI) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return ErrClosed
	}
	if _, err := s.dev.Write(s.rgb); err != nil {
		return fmt.Errorf("spi write: %w", err)
	}
	return nil
}

// Close turns the strip off and releases the port.
func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	err := s.dev.Halt()
	s.dev = nil
	if c, ok := s.port.(spi.PortCloser); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *SPI) String() string {
	return fmt.Sprintf("spi(%d leds)", s.count())
}
