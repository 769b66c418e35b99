package tis

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

func stripes(w, h int) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{255, 0, 0, 255}
			if x%8 < 4 {
				c = color.NRGBA{255, 255, 255, 255}
			}
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

func TestSplitJoin(t *testing.T) {
	t.Parallel()

	src := stripes(100, 70)
	tiles := Split(src)
	require.Len(t, tiles, 4)
	assert.Equal(t, 2, Columns(100))

	// Padding is transparent
	assert.Equal(t, color.NRGBA{}, tiles[1].NRGBAAt(63, 0))
	assert.Equal(t, color.NRGBA{}, tiles[2].NRGBAAt(0, 63))

	m := Join(tiles, 2)
	assert.Equal(t, image.Rect(0, 0, 128, 128), m.Bounds())
	assert.Equal(t, src.NRGBAAt(99, 69), m.NRGBAAt(99, 69))
}

func TestEncodeV1(t *testing.T) {
	t.Parallel()

	for _, q := range []palette.Quantizer{palette.QuantizerMedianCut, palette.QuantizerFast} {
		src := stripes(80, 64)

		b := new(bytes.Buffer)
		require.Nil(t, EncodeV1(context.Background(), b, src, V1Options{Quantizer: q}))

		raw := b.Bytes()
		assert.Equal(t, "TIS V1  ", string(raw[:8]))
		assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[8:]))
		assert.Equal(t, uint32(tileSizeV1), binary.LittleEndian.Uint32(raw[12:]))
		assert.Len(t, raw, headerSize+2*tileSizeV1)

		f, err := Decode(b, nil)
		require.Nil(t, err)
		require.Len(t, f.Tiles, 2)

		m := Join(f.Tiles, 2)
		for y := 0; y < 64; y++ {
			for x := 0; x < 80; x++ {
				require.Equal(t, src.NRGBAAt(x, y), m.NRGBAAt(x, y), "%d,%d with %v", x, y, q)
			}
		}
		assert.Equal(t, uint8(0), m.NRGBAAt(100, 10).A)
	}
}

func TestEncodeV2(t *testing.T) {
	t.Parallel()

	src := image.NewNRGBA(image.Rect(0, 0, 192, 64))
	copyInto := func(x int, m *image.NRGBA) {
		for y := 0; y < 64; y++ {
			for i := 0; i < 64; i++ {
				src.SetNRGBA(x+i, y, m.NRGBAAt(i, y))
			}
		}
	}
	copyInto(0, stripes(64, 64))
	copyInto(128, stripes(64, 64))

	pages := pvrz.Memory{}
	b := new(bytes.Buffer)
	require.Nil(t, EncodeV2(context.Background(), b, src, V2Options{Pages: pages, AtlasOptions: pvrz.AtlasOptions{FirstPage: 5}}))

	raw := b.Bytes()
	assert.Equal(t, "TIS V2  ", string(raw[:8]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(raw[8:]))
	// The middle tile is empty
	assert.Equal(t, uint32(noPage), binary.LittleEndian.Uint32(raw[headerSize+tileSizeV2:]))
	assert.Len(t, pages, 1)
	assert.Contains(t, pages, 5)

	f, err := Decode(b, pages)
	require.Nil(t, err)
	m := Join(f.Tiles, 3)
	for _, p := range []image.Point{{0, 0}, {5, 5}, {130, 10}, {191, 63}} {
		assert.Equal(t, src.NRGBAAt(p.X, p.Y), m.NRGBAAt(p.X, p.Y), "%v", p)
	}
	assert.Equal(t, uint8(0), m.NRGBAAt(100, 10).A)
}

func TestEncodeInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	empty := image.NewNRGBA(image.Rectangle{})
	assert.ErrorIs(t, EncodeV1(ctx, new(bytes.Buffer), empty, V1Options{}), ErrEmpty)
	assert.NotNil(t, EncodeV2(ctx, new(bytes.Buffer), stripes(8, 8), V2Options{}))

	_, err := Decode(bytes.NewReader([]byte("MOS V1  ")), nil)
	assert.ErrorIs(t, err, ErrFormat)

	c, cancel := context.WithCancel(ctx)
	cancel()
	b := new(bytes.Buffer)
	assert.ErrorIs(t, EncodeV1(c, b, stripes(8, 8), V1Options{}), frame.ErrCancelled)
	assert.Zero(t, b.Len())
}
