// Package scale resizes frames.
package scale

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/bodgit/bamconv/frame"
	"golang.org/x/image/draw"
)

// Algorithm selects a resampling method.
type Algorithm int

const (
	Nearest Algorithm = iota
	Bilinear
	Bicubic
	ScaleX // Scale2x, Scale3x or Scale4x depending on the factor
	Lanczos
)

var algorithmNames = []string{"nearest", "bilinear", "bicubic", "scalex", "lanczos"}

func (a Algorithm) String() string {
	if a >= 0 && int(a) < len(algorithmNames) {
		return algorithmNames[a]
	}
	return "unknown"
}

// ParseAlgorithm is the inverse of Algorithm.String.
func ParseAlgorithm(s string) (Algorithm, error) {
	for i, n := range algorithmNames {
		if n == s {
			return Algorithm(i), nil
		}
	}
	return 0, fmt.Errorf("scale: unknown algorithm %q", s)
}

// Factor limits for the interpolating algorithms.
const (
	MinFactor = 0.01
	MaxFactor = 16.0
)

// DefaultLanczos is the default Lanczos kernel half width.
const DefaultLanczos = 3

// ErrFactor is returned for a scale factor the algorithm can't use.
var ErrFactor = errors.New("scale: invalid factor")

// Params describes a resize.
type Params struct {
	Algorithm Algorithm
	// X and Y are the horizontal and vertical factors. ScaleX needs both
	// set to the same value of 2, 3 or 4.
	X, Y float64
	// Lanczos is the kernel half width, DefaultLanczos when zero.
	Lanczos int
	// Border is the color assumed beyond the image edges by ScaleX. When
	// nil the edge pixels are repeated.
	Border color.Color
}

// Validate checks p without touching any pixels.
func (p Params) Validate() error {
	switch p.Algorithm {
	case ScaleX:
		if p.X != p.Y || (p.X != 2 && p.X != 3 && p.X != 4) {
			return fmt.Errorf("%w: %gx%g, %s needs 2, 3 or 4", ErrFactor, p.X, p.Y, p.Algorithm)
		}
	case Nearest, Bilinear, Bicubic, Lanczos:
		for _, f := range []float64{p.X, p.Y} {
			if math.IsNaN(f) || f < MinFactor || f > MaxFactor {
				return fmt.Errorf("%w: %gx%g", ErrFactor, p.X, p.Y)
			}
		}
		if p.Lanczos < 0 {
			return fmt.Errorf("scale: invalid lanczos size %d", p.Lanczos)
		}
	default:
		return fmt.Errorf("scale: unknown algorithm %d", p.Algorithm)
	}
	return nil
}

func (p Params) size(b image.Rectangle) (int, int) {
	w := int(math.Round(float64(b.Dx()) * p.X))
	h := int(math.Round(float64(b.Dy()) * p.Y))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Resize scales img. Nearest and ScaleX keep paletted images paletted,
// everything else returns *image.NRGBA.
func Resize(img image.Image, p Params) (image.Image, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return frame.CloneImage(img), nil
	}

	switch p.Algorithm {
	case ScaleX:
		return scaleX(img, int(p.X), p.Border), nil
	case Lanczos:
		a := p.Lanczos
		if a == 0 {
			a = DefaultLanczos
		}
		w, h := p.size(b)
		return lanczos(img, w, h, a), nil
	}

	w, h := p.size(b)
	if pm, ok := img.(*image.Paletted); ok && p.Algorithm == Nearest {
		return nearestPaletted(pm, w, h), nil
	}

	var interp draw.Interpolator
	switch p.Algorithm {
	case Nearest:
		interp = draw.NearestNeighbor
	case Bilinear:
		interp = draw.BiLinear
	default:
		interp = draw.CatmullRom
	}
	// Paletted input is promoted first so the interpolation works on colors
	src := frame.AsNRGBA(img)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// nearestPaletted copies palette indices so no color lookup happens.
func nearestPaletted(pm *image.Paletted, w, h int) *image.Paletted {
	b := pm.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, w, h), pm.Palette)
	for y := 0; y < h; y++ {
		sy := b.Min.Y + (2*y+1)*b.Dy()/(2*h)
		row := pm.Pix[pm.PixOffset(b.Min.X, sy):]
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = row[(2*x+1)*b.Dx()/(2*w)]
		}
	}
	return dst
}

// Center rescales a center point by the ratio actually applied between the
// from and to sizes.
func Center(c image.Point, from, to image.Point) image.Point {
	if from.X == 0 || from.Y == 0 {
		return c
	}
	return image.Point{
		X: int(math.Round(float64(c.X) * float64(to.X) / float64(from.X))),
		Y: int(math.Round(float64(c.Y) * float64(to.Y) / float64(from.Y))),
	}
}

// Frame resizes f and, when scaleCenter is set, its center.
func Frame(f frame.Frame, p Params, scaleCenter bool) (frame.Frame, error) {
	img, err := Resize(f.Image, p)
	if err != nil {
		return f, err
	}
	out := f.WithImage(img)
	if scaleCenter {
		out.Center = Center(f.Center, f.Image.Bounds().Size(), img.Bounds().Size())
	}
	return out, nil
}
