package preview

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/profile"
)

func TestRenderLayout(t *testing.T) {
	p, err := profile.New("bench", []int{4, 2}, true)
	require.NoError(t, err)

	pixels := make([]framebuffer.Color, p.Addressable())
	pixels[1] = framebuffer.Color{R: 255}
	pixels[5] = framebuffer.Color{B: 255}

	img := Render(p, pixels).Image()
	assert.Equal(t, 4*Cell, img.Bounds().Dx())
	assert.Equal(t, 2*Cell, img.Bounds().Dy())

	center := func(seg, pos int) (uint32, uint32, uint32) {
		r, g, b, _ := img.At(pos*Cell+Cell/2, seg*Cell+Cell/2).RGBA()
		return r >> 8, g >> 8, b >> 8
	}

	r, g, b := center(0, 1)
	assert.Equal(t, [3]uint32{255, 0, 0}, [3]uint32{r, g, b})

	r, g, b = center(1, 1)
	assert.Equal(t, [3]uint32{0, 0, 255}, [3]uint32{r, g, b})

	// Position 3 of segment 1 is a padding gap: background only.
	r, g, b = center(1, 3)
	assert.Equal(t, [3]uint32{16, 16, 16}, [3]uint32{r, g, b})
}

func TestWritePNG(t *testing.T) {
	p, err := profile.Lookup(profile.Single)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, p, nil))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	w, h := Size(p)
	assert.Equal(t, w, img.Bounds().Dx())
	assert.Equal(t, h, img.Bounds().Dy())
}
