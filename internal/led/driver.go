// Package led hands framebuffer contents to a physical strip.
package led

import "fmt"

// Driver abstracts an LED output sink. Pixels are staged with SetPixel and
// latched onto the strip by Show.
type Driver interface {
	// SetPixel stages one pixel. Indices outside the strip are ignored.
	SetPixel(index int, r, g, b uint8)
	// Show pushes the staged pixels to hardware.
	Show() error
	// Close releases resources.
	Close() error
}

// pixels is the staging buffer shared by the drivers, packed RGB.
type pixels struct {
	rgb []byte
}

func newPixels(count int) (pixels, error) {
	if count <= 0 {
		return pixels{}, fmt.Errorf("invalid LED count: %d", count)
	}
	return pixels{rgb: make([]byte, 3*count)}, nil
}

func (p *pixels) SetPixel(index int, r, g, b uint8) {
	if index < 0 || 3*index >= len(p.rgb) {
		return
	}
	p.rgb[3*index], p.rgb[3*index+1], p.rgb[3*index+2] = r, g, b
}

func (p *pixels) count() int { return len(p.rgb) / 3 }
