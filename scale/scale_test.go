package scale

import (
	"image"
	"image/color"
	"testing"

	"github.com/bodgit/bamconv/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.NRGBA{255, 0, 0, 255}
	blue  = color.NRGBA{0, 0, 255, 255}
	white = color.NRGBA{255, 255, 255, 255}
)

func field(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

func TestScale2xUniform(t *testing.T) {
	t.Parallel()

	for _, border := range []color.Color{nil, blue} {
		out, err := Resize(field(3, 3, red), Params{Algorithm: ScaleX, X: 2, Y: 2, Border: border})
		require.Nil(t, err)

		m := out.(*image.NRGBA)
		assert.Equal(t, image.Rect(0, 0, 6, 6), m.Bounds())
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				assert.Equal(t, red, m.NRGBAAt(x, y))
			}
		}
	}
}

func isolated(t *testing.T, n int) {
	src := field(5, 5, white)
	src.SetNRGBA(2, 2, blue)

	out, err := Resize(src, Params{Algorithm: ScaleX, X: float64(n), Y: float64(n)})
	require.Nil(t, err)

	m := out.(*image.NRGBA)
	require.Equal(t, image.Rect(0, 0, 5*n, 5*n), m.Bounds())
	changed := 0
	for y := 0; y < 5*n; y++ {
		for x := 0; x < 5*n; x++ {
			inside := x/n == 2 && y/n == 2
			if inside {
				assert.Equal(t, blue, m.NRGBAAt(x, y))
			} else {
				assert.Equal(t, white, m.NRGBAAt(x, y))
			}
			if m.NRGBAAt(x, y) != white {
				changed++
			}
		}
	}
	assert.Equal(t, n*n, changed)
}

func TestScale2xIsolatedPixel(t *testing.T) {
	t.Parallel()
	isolated(t, 2)
}

func TestScale3xIsolatedPixel(t *testing.T) {
	t.Parallel()
	isolated(t, 3)
}

func TestScale2xDiagonalEdge(t *testing.T) {
	t.Parallel()
	// A 2x2 checker of indices: the top-left pixel is rounded towards its
	// matching up and left neighbours
	pm := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{white, red})
	pm.Pix = []uint8{0, 1, 1, 1}

	out, err := Resize(pm, Params{Algorithm: ScaleX, X: 2, Y: 2})
	require.Nil(t, err)

	got := out.(*image.Paletted)
	assert.Equal(t, pm.Palette, got.Palette)
	assert.Equal(t, []uint8{
		0, 0, 1, 1,
		0, 1, 1, 1,
		1, 1, 1, 1,
		1, 1, 1, 1,
	}, got.Pix)
}

func TestScale4x(t *testing.T) {
	t.Parallel()
	pm := image.NewPaletted(image.Rect(0, 0, 2, 3), color.Palette{white, red})

	out, err := Resize(pm, Params{Algorithm: ScaleX, X: 4, Y: 4})
	require.Nil(t, err)

	assert.IsType(t, &image.Paletted{}, out)
	assert.Equal(t, image.Rect(0, 0, 8, 12), out.Bounds())
}

func TestLanczosIdentity(t *testing.T) {
	t.Parallel()
	src := image.NewNRGBA(image.Rect(0, 0, 9, 7))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 37)
	}

	out, err := Resize(src, Params{Algorithm: Lanczos, X: 1, Y: 1})
	require.Nil(t, err)
	assert.Equal(t, src.Pix, out.(*image.NRGBA).Pix)

	out, err = Resize(src, Params{Algorithm: Lanczos, X: 2, Y: 0.5, Lanczos: 2})
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 18, 4), out.Bounds())
}

func TestLanczosKernel(t *testing.T) {
	t.Parallel()
	k := lanczosKernel(3)

	assert.Equal(t, 1.0, k(0))
	assert.Equal(t, 0.0, k(3))
	assert.Equal(t, 0.0, k(-4))
	assert.InDelta(t, 0.0, k(1), 1e-12)
	assert.InDelta(t, k(0.5), k(-0.5), 1e-12)
}

func TestInterpolated(t *testing.T) {
	t.Parallel()
	pm := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{white, red})
	for i := range pm.Pix {
		pm.Pix[i] = uint8(i % 2)
	}

	out, err := Resize(pm, Params{Algorithm: Nearest, X: 2, Y: 0.5})
	require.Nil(t, err)
	got := out.(*image.Paletted)
	assert.Equal(t, image.Rect(0, 0, 8, 2), got.Bounds())
	assert.Equal(t, []uint8{0, 0, 1, 1, 0, 0, 1, 1}, got.Pix[:8])

	for _, a := range []Algorithm{Bilinear, Bicubic} {
		out, err := Resize(pm, Params{Algorithm: a, X: 1.5, Y: 1.5})
		require.Nil(t, err)
		assert.IsType(t, &image.NRGBA{}, out)
		assert.Equal(t, image.Rect(0, 0, 6, 6), out.Bounds())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, p := range []Params{
		{Algorithm: ScaleX, X: 2.5, Y: 2.5},
		{Algorithm: ScaleX, X: 2, Y: 3},
		{Algorithm: Nearest, X: 0, Y: 1},
		{Algorithm: Lanczos, X: 1, Y: MaxFactor + 1},
	} {
		_, err := Resize(field(1, 1, red), p)
		assert.ErrorIs(t, err, ErrFactor)
	}

	a, err := ParseAlgorithm("lanczos")
	require.Nil(t, err)
	assert.Equal(t, Lanczos, a)
	_, err = ParseAlgorithm("sinc")
	assert.NotNil(t, err)
}

func TestFrameCenter(t *testing.T) {
	t.Parallel()
	f := frame.New(field(10, 10, red), 10, 20)

	out, err := Frame(f, Params{Algorithm: Nearest, X: 2.5, Y: 0.5}, true)
	require.Nil(t, err)
	assert.Equal(t, image.Point{25, 10}, out.Center)
	assert.Equal(t, 25, out.Width())
	assert.Equal(t, 5, out.Height())

	out, err = Frame(f, Params{Algorithm: Nearest, X: 2, Y: 2}, false)
	require.Nil(t, err)
	assert.Equal(t, image.Point{10, 20}, out.Center)
}
