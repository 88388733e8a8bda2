// Package preview renders a framebuffer as an image, one row of dots per
// strip segment.
package preview

import (
	"io"

	"github.com/fogleman/gg"

	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/profile"
)

// Cell is the edge length in pixels of one LED in the image.
const Cell = 12

// Size returns the image dimensions for a profile.
func Size(p *profile.Profile) (width, height int) {
	return p.MaxSegmentLength * Cell, p.SegmentCount() * Cell
}

// Render draws the pixels laid out by p. Pixels missing from a short slice
// are drawn black; padding gaps are not drawn.
func Render(p *profile.Profile, pixels []framebuffer.Color) *gg.Context {
	w, h := Size(p)
	dc := gg.NewContext(w, h)
	dc.SetRGB255(16, 16, 16)
	dc.Clear()

	radius := float64(Cell)/2 - 1
	for s, seg := range p.Segments {
		cy := float64(s*Cell) + float64(Cell)/2
		for i := 0; i < seg.Length; i++ {
			c := framebuffer.Black
			if idx := seg.Offset + i; idx < len(pixels) {
				c = pixels[idx]
			}
			dc.SetRGB255(int(c.R), int(c.G), int(c.B))
			dc.DrawCircle(float64(i*Cell)+float64(Cell)/2, cy, radius)
			dc.Fill()
		}
	}
	return dc
}

// WritePNG renders the pixels and encodes them as PNG.
func WritePNG(w io.Writer, p *profile.Profile, pixels []framebuffer.Color) error {
	return Render(p, pixels).EncodePNG(w)
}
