package framebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndAt(t *testing.T) {
	fb := New(4)
	require.NoError(t, fb.Set(2, Color{1, 2, 3}))

	assert.Equal(t, Color{1, 2, 3}, fb.At(2))
	assert.Equal(t, Black, fb.At(1))
	assert.Equal(t, Black, fb.At(99))
}

func TestSetOutOfRange(t *testing.T) {
	fb := New(4)
	assert.Error(t, fb.Set(4, Color{R: 255}))
	assert.Error(t, fb.Set(-1, Color{R: 255}))
	assert.Equal(t, make([]Color, 4), fb.Snapshot())
}

func TestFillClear(t *testing.T) {
	fb := New(3)
	fb.Fill(Color{9, 9, 9})
	assert.Equal(t, []Color{{9, 9, 9}, {9, 9, 9}, {9, 9, 9}}, fb.Snapshot())

	fb.Clear()
	assert.Equal(t, make([]Color, 3), fb.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	fb := New(2)
	snap := fb.Snapshot()
	snap[0] = Color{R: 1}
	assert.Equal(t, Black, fb.At(0))
}

func TestHex(t *testing.T) {
	assert.Equal(t, "#0A14FF", Color{10, 20, 255}.Hex())
}
