package pvrz

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bodgit/bamconv/dxt"
	"github.com/bodgit/bamconv/frame"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(w, h int, c color.NRGBA, f dxt.Format) *Page {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return NewPage(m, f)
}

func TestPageRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []dxt.Format{dxt.DXT1, dxt.DXT5} {
		p := page(16, 8, color.NRGBA{0, 0, 255, 255}, f)

		b, err := p.MarshalBinary()
		require.Nil(t, err)

		size := binary.LittleEndian.Uint32(b)
		assert.Equal(t, uint32(headerSize+f.Size(16, 8)), size)

		zr, err := zlib.NewReader(bytes.NewReader(b[4:]))
		require.Nil(t, err)
		raw, err := io.ReadAll(zr)
		require.Nil(t, err)
		assert.Equal(t, uint32(pvrVersion), binary.LittleEndian.Uint32(raw))
		assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(raw[24:]))
		assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(raw[28:]))

		var q Page
		require.Nil(t, q.UnmarshalBinary(b))
		assert.Equal(t, *p, q)

		img, err := q.Image()
		require.Nil(t, err)
		assert.Equal(t, color.NRGBA{0, 0, 255, 255}, img.NRGBAAt(15, 7))
	}
}

func TestPageInvalid(t *testing.T) {
	t.Parallel()

	_, err := (&Page{Width: 2048, Height: 4}).MarshalBinary()
	assert.NotNil(t, err)

	_, err = (&Page{Width: 4, Height: 4, Data: []byte{1}}).MarshalBinary()
	assert.NotNil(t, err)

	var p Page
	assert.NotNil(t, p.UnmarshalBinary([]byte{1, 2}))
}

func TestFilename(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "MOS0012.PVRZ", Filename("MOS", 12))
}

type recorder struct {
	mu    sync.Mutex
	order []int
	fail  int
}

func (r *recorder) WritePage(n int, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n == r.fail {
		return errors.New("disk full")
	}
	r.order = append(r.order, n)
	return nil
}

func TestWriteAllOrdered(t *testing.T) {
	t.Parallel()
	var pages []*Page
	for i := 0; i < 20; i++ {
		// Larger pages first so they tend to finish last
		pages = append(pages, page(64-i*2, 64-i*2, color.NRGBA{uint8(i), 0, 0, 255}, dxt.DXT1))
	}

	r := &recorder{fail: -1}
	require.Nil(t, WriteAll(context.Background(), pages, 0, r, 4))

	want := make([]int, len(pages))
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, r.order)
}

func TestWriteAllError(t *testing.T) {
	t.Parallel()
	pages := []*Page{page(4, 4, color.NRGBA{}, dxt.DXT1), page(4, 4, color.NRGBA{}, dxt.DXT1), page(4, 4, color.NRGBA{}, dxt.DXT1)}

	r := &recorder{fail: 1}
	err := WriteAll(context.Background(), pages, 0, r, 2)
	assert.NotNil(t, err)
	assert.Equal(t, []int{0}, r.order)
}

func TestWriteAllCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := Memory{}
	err := WriteAll(ctx, []*Page{page(4, 4, color.NRGBA{}, dxt.DXT1)}, 0, w, 1)
	assert.ErrorIs(t, err, frame.ErrCancelled)
	assert.Empty(t, w)
}

func TestDir(t *testing.T) {
	t.Parallel()
	d := Dir{Path: t.TempDir(), Prefix: "TEST"}

	p := page(4, 4, color.NRGBA{255, 0, 0, 255}, dxt.DXT1)
	require.Nil(t, WriteAll(context.Background(), []*Page{p}, 3, d, 0))

	_, err := os.Stat(filepath.Join(d.Path, "TEST0003.PVRZ"))
	require.Nil(t, err)

	q, err := d.LoadPage(3)
	require.Nil(t, err)
	assert.Equal(t, p.Data, q.Data)

	_, err = d.LoadPage(4)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	m := Memory{}

	p := page(8, 4, color.NRGBA{0, 255, 0, 255}, dxt.DXT5)
	require.Nil(t, WriteAll(context.Background(), []*Page{p, p}, 10, m, 2))

	assert.Len(t, m, 2)
	q, err := m.LoadPage(11)
	require.Nil(t, err)
	assert.Equal(t, *p, *q)
}
