// Package framebuffer holds the logical pixel colors of the display.
package framebuffer

import "fmt"

// Color is one RGB pixel.
type Color struct {
	R, G, B uint8
}

// Black is the cleared pixel value.
var Black = Color{}

// Hex renders the color as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Framebuffer is a fixed-size array of pixels. It has a single writer and is
// not safe for concurrent use.
type Framebuffer struct {
	pixels []Color
}

// New creates a cleared framebuffer of size pixels.
func New(size int) *Framebuffer {
	return &Framebuffer{pixels: make([]Color, size)}
}

// Len returns the number of pixels.
func (f *Framebuffer) Len() int { return len(f.pixels) }

// InRange reports whether index addresses a pixel.
func (f *Framebuffer) InRange(index int) bool {
	return index >= 0 && index < len(f.pixels)
}

// Set writes one pixel. Out-of-range writes are refused, never clamped.
func (f *Framebuffer) Set(index int, c Color) error {
	if !f.InRange(index) {
		return fmt.Errorf("pixel %d outside framebuffer of %d", index, len(f.pixels))
	}
	f.pixels[index] = c
	return nil
}

// At returns the pixel at index, or Black when out of range.
func (f *Framebuffer) At(index int) Color {
	if !f.InRange(index) {
		return Black
	}
	return f.pixels[index]
}

// Fill sets every pixel to c.
func (f *Framebuffer) Fill(c Color) {
	for i := range f.pixels {
		f.pixels[i] = c
	}
}

// Clear sets every pixel to black.
func (f *Framebuffer) Clear() { f.Fill(Black) }

// Snapshot returns a copy of the pixels.
func (f *Framebuffer) Snapshot() []Color {
	out := make([]Color, len(f.pixels))
	copy(out, f.pixels)
	return out
}

// Each calls fn for every pixel in index order.
func (f *Framebuffer) Each(fn func(index int, c Color)) {
	for i, c := range f.pixels {
		fn(i, c)
	}
}
