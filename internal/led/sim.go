package led

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Sim is a headless driver that logs a compact summary of every frame.
type Sim struct {
	mu sync.Mutex
	pixels
	frames int
	last   []byte
	closed bool
}

// NewSim creates a simulated strip of count LEDs.
func NewSim(count int) (*Sim, error) {
	p, err := newPixels(count)
	if err != nil {
		return nil, err
	}
	return &Sim{pixels: p}, nil
}

// SetPixel stages one pixel.
func (s *Sim) SetPixel(index int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixels.SetPixel(index, r, g, b)
}

// Show records the staged frame.
func (s *Sim) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.frames++
	s.last = append(s.last[:0], s.rgb...)

	var r, g, b, lit int
	for i := 0; i < len(s.rgb); i += 3 {
		r += int(s.rgb[i])
		g += int(s.rgb[i+1])
		b += int(s.rgb[i+2])
		if s.rgb[i]|s.rgb[i+1]|s.rgb[i+2] != 0 {
			lit++
		}
	}
	n := s.count()

	log.Debug().
		Str("component", "led").
		Int("frame", s.frames).
		Int("lit", lit).
		Ints("avg", []int{r / n, g / n, b / n}).
		Msg("Frame shown")
	return nil
}

// Frames returns how many frames were shown.
func (s *Sim) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Last returns a copy of the most recently shown frame, packed RGB.
func (s *Sim) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}

// Close marks the driver closed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
