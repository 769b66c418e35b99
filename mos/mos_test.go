package mos

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadrants returns a w×h image with a different color in each quadrant
// and a transparent hole in the middle.
func quadrants(w, h int) *image.NRGBA {
	colors := []color.NRGBA{
		{255, 0, 0, 255},
		{0, 0, 255, 255},
		{255, 255, 0, 255},
		{0, 255, 255, 255},
	}
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			q := 0
			if x >= w/2 {
				q++
			}
			if y >= h/2 {
				q += 2
			}
			m.SetNRGBA(x, y, colors[q])
		}
	}
	m.SetNRGBA(w/2, h/2, color.NRGBA{})
	return m
}

func TestEncodeV1(t *testing.T) {
	t.Parallel()

	for _, q := range []palette.Quantizer{palette.QuantizerMedianCut, palette.QuantizerFast} {
		src := quadrants(100, 70)

		b := new(bytes.Buffer)
		require.Nil(t, EncodeV1(context.Background(), b, src, V1Options{Quantizer: q}))

		raw := b.Bytes()
		assert.Equal(t, "MOS V1  ", string(raw[:8]))
		assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[0x0c:]))
		assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[0x0e:]))

		f, err := Decode(b, nil)
		require.Nil(t, err)
		assert.Equal(t, 1, f.Version)
		assert.Equal(t, image.Rect(0, 0, 100, 70), f.Image.Bounds())

		for _, p := range []image.Point{{0, 0}, {99, 0}, {0, 69}, {99, 69}, {63, 63}, {64, 64}} {
			assert.Equal(t, src.NRGBAAt(p.X, p.Y), f.Image.NRGBAAt(p.X, p.Y), "%v with %v", p, q)
		}
		assert.Equal(t, uint8(0), f.Image.NRGBAAt(50, 35).A)
	}
}

func TestEncodeV1Compressed(t *testing.T) {
	t.Parallel()

	b := new(bytes.Buffer)
	require.Nil(t, EncodeV1(context.Background(), b, quadrants(64, 64), V1Options{Compress: true}))
	assert.Equal(t, "MOSCV1  ", string(b.Bytes()[:8]))

	f, err := Decode(b, nil)
	require.Nil(t, err)
	assert.True(t, f.Compressed)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, f.Image.NRGBAAt(0, 0))
}

func TestEncodeV2(t *testing.T) {
	t.Parallel()

	src := quadrants(48, 40)
	pages := pvrz.Memory{}

	b := new(bytes.Buffer)
	require.Nil(t, EncodeV2(context.Background(), b, src, V2Options{Pages: pages, AtlasOptions: pvrz.AtlasOptions{PageSize: 32}}))

	raw := b.Bytes()
	assert.Equal(t, "MOS V2  ", string(raw[:8]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(raw[0x10:]))

	f, err := Decode(b, pages)
	require.Nil(t, err)
	assert.Equal(t, 2, f.Version)
	for _, p := range []image.Point{{0, 0}, {47, 0}, {0, 39}, {47, 39}} {
		assert.Equal(t, src.NRGBAAt(p.X, p.Y), f.Image.NRGBAAt(p.X, p.Y), "%v", p)
	}
}

func TestEncodeInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))

	assert.ErrorIs(t, EncodeV1(ctx, new(bytes.Buffer), empty, V1Options{}), ErrEmpty)
	assert.ErrorIs(t, EncodeV2(ctx, new(bytes.Buffer), empty, V2Options{Pages: pvrz.Memory{}}), ErrEmpty)
	assert.NotNil(t, EncodeV2(ctx, new(bytes.Buffer), quadrants(4, 4), V2Options{}))

	_, err := Decode(bytes.NewReader([]byte("BAM V1  ")), nil)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestEncodeCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := new(bytes.Buffer)
	assert.ErrorIs(t, EncodeV1(ctx, b, quadrants(8, 8), V1Options{}), frame.ErrCancelled)
	assert.Zero(t, b.Len())
}
