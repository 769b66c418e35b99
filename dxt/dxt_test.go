package dxt

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
)

func fill(w, h int, fn func(x, y int) color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, fn(x, y))
		}
	}
	return m
}

func TestDXT1TwoColors(t *testing.T) {
	t.Parallel()
	src := fill(8, 4, func(x, _ int) color.NRGBA {
		if x%4 < 2 {
			return red
		}
		return blue
	})

	data := Encode(src, DXT1)
	require.Len(t, data, 16)

	got, err := Decode(data, 8, 4, DXT1)
	require.Nil(t, err)
	assert.Equal(t, src.Pix, got.Pix)
}

func TestDXT1BinaryAlpha(t *testing.T) {
	t.Parallel()
	src := fill(4, 4, func(x, y int) color.NRGBA {
		if x == 0 && y == 0 {
			return color.NRGBA{}
		}
		return red
	})

	got, err := Decode(Encode(src, DXT1), 4, 4, DXT1)
	require.Nil(t, err)
	assert.Equal(t, src.Pix, got.Pix)

	empty := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	got, err = Decode(Encode(empty, DXT1), 4, 4, DXT1)
	require.Nil(t, err)
	assert.Equal(t, empty.Pix, got.Pix)
}

func TestDXT5Alpha(t *testing.T) {
	t.Parallel()
	src := fill(4, 4, func(x, y int) color.NRGBA {
		return color.NRGBA{0, 0, 255, uint8((y*4 + x) * 17)}
	})

	data := Encode(src, DXT5)
	require.Len(t, data, 16)

	got, err := Decode(data, 4, 4, DXT5)
	require.Nil(t, err)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want, have := src.NRGBAAt(x, y), got.NRGBAAt(x, y)
			assert.InDelta(t, want.A, have.A, 19)
			assert.Equal(t, uint8(255), have.B)
		}
	}
	assert.Equal(t, uint8(0), got.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), got.NRGBAAt(3, 3).A)
}

func TestPartialBlocks(t *testing.T) {
	t.Parallel()
	src := fill(5, 3, func(int, int) color.NRGBA { return blue })

	for _, f := range []Format{DXT1, DXT5} {
		data := Encode(src, f)
		assert.Len(t, data, 2*f.BlockSize())

		got, err := Decode(data, 5, 3, f)
		require.Nil(t, err)
		assert.Equal(t, src.Pix, got.Pix, f.String())
	}

	_, err := Decode(make([]byte, 8), 5, 3, DXT1)
	assert.NotNil(t, err)
}

func TestChoose(t *testing.T) {
	t.Parallel()
	opaque := fill(4, 4, func(int, int) color.NRGBA { return red })
	binary := fill(4, 4, func(x, _ int) color.NRGBA {
		if x == 0 {
			return color.NRGBA{}
		}
		return red
	})
	partial := fill(4, 4, func(x, _ int) color.NRGBA {
		if x == 0 {
			return color.NRGBA{255, 0, 0, 100}
		}
		return red
	})

	assert.Equal(t, DXT1, Choose(opaque, 0, 255))
	assert.Equal(t, DXT1, Choose(binary, 0, 255))
	assert.Equal(t, DXT5, Choose(partial, 0, 255))
	assert.Equal(t, DXT1, Choose(partial, 100, 255))
}
